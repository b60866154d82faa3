package echoapi

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/sunschool/sunschool/core/dbsync"
	"github.com/sunschool/sunschool/core/learner"
	"github.com/sunschool/sunschool/core/user"
)

const defaultHistoryLimit = 10

type learnerApi struct {
	userSvc  *user.Service
	svc      *learner.Service
	validate *validator.Validate
}

func registerLearnerAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	userSvc *user.Service,
	svc *learner.Service,
	validate *validator.Validate,
) {
	api := learnerApi{
		userSvc:  userSvc,
		svc:      svc,
		validate: validate,
	}

	ag := g.Group("", jwt)
	ag.GET("/learner-profile/:userId", api.profile)
	ag.PUT("/learner-profile/:userId", api.updateProfile, roleMiddleware(userSvc, user.RoleParent, user.RoleAdmin))

	ag.GET("/lessons", api.lessons)
	ag.POST("/lessons", api.createLesson)
	ag.GET("/lessons/active", api.activeLesson)
	ag.POST("/lessons/:lessonId/answer", api.answer, roleMiddleware(userSvc, user.RoleLearner))

	ag.GET("/achievements", api.achievements)
	ag.GET("/export", api.export, roleMiddleware(userSvc, user.RoleParent, user.RoleAdmin))
}

// canAccess tells whether ctxUsr may see the learner's data:
// admins see everyone, parents their children, learners themselves.
func (api *learnerApi) canAccess(ctx echo.Context, ctxUsr user.User, learnerID int) (bool, error) {
	switch {
	case ctxUsr.IsAdmin(), ctxUsr.ID == learnerID:
		return true, nil
	case ctxUsr.IsParent():
		lrn, err := api.userSvc.GetByID(ctx.Request().Context(), learnerID)
		if err != nil {
			if errors.Cause(err) == user.ErrNotFound {
				return false, nil
			}
			return false, errors.Wrap(err, "finding learner by ID")
		}
		return lrn.IsChildOf(ctxUsr.ID), nil
	}
	return false, nil
}

// targetLearner resolves the learner a request is about: the learner themselves,
// or the `learnerId` query param for parents and admins.
func (api *learnerApi) targetLearner(ctx echo.Context) (int, error) {
	ctxUsr, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return 0, err
	}
	if ctxUsr.IsLearner() {
		return ctxUsr.ID, nil
	}

	learnerID, err := strconv.Atoi(ctx.QueryParam("learnerId"))
	if err != nil {
		return 0, errLearnerIDRequired
	}
	ok, err := api.canAccess(ctx, ctxUsr, learnerID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, errHttpForbidden
	}
	return learnerID, nil
}

func (api *learnerApi) profile(ctx echo.Context) error {
	userID, err := strconv.Atoi(ctx.Param("userId"))
	if err != nil {
		return errHttpNotFound
	}
	ctxUsr, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return err
	}
	ok, err := api.canAccess(ctx, ctxUsr, userID)
	if err != nil {
		return err
	}
	if !ok {
		return errHttpForbidden
	}

	var profile learner.Profile
	reqCtx := ctx.Request().Context()
	if ctxUsr.ID == userID {
		profile, err = api.svc.GetOrCreateProfile(reqCtx, userID)
	} else {
		profile, err = api.svc.GetProfile(reqCtx, userID)
	}
	if err != nil {
		return errors.Wrap(err, "getting learner profile")
	}
	return ctx.JSON(http.StatusOK, profile)
}

func (api *learnerApi) updateProfile(ctx echo.Context) error {
	userID, err := strconv.Atoi(ctx.Param("userId"))
	if err != nil {
		return errHttpNotFound
	}
	ctxUsr, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return err
	}
	ok, err := api.canAccess(ctx, ctxUsr, userID)
	if err != nil {
		return err
	}
	if !ok {
		return errHttpForbidden
	}

	var data learner.UpdateProfile
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateProfile")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	profile, err := api.svc.UpdateProfile(ctx.Request().Context(), userID, data)
	if err != nil {
		return errors.Wrap(err, "updating learner profile")
	}
	return ctx.JSON(http.StatusOK, profile)
}

func (api *learnerApi) activeLesson(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return err
	}
	lesson, err := api.svc.GetActiveLesson(ctx.Request().Context(), ctxUsr.ID)
	if err != nil {
		if errors.Cause(err) == learner.ErrNoActiveLesson {
			return ctx.JSON(http.StatusOK, nil)
		}
		return errors.Wrap(err, "getting active lesson")
	}
	return ctx.JSON(http.StatusOK, lesson)
}

func (api *learnerApi) lessons(ctx echo.Context) error {
	learnerID, err := api.targetLearner(ctx)
	if err != nil {
		return err
	}
	limit := defaultHistoryLimit
	if l, err := strconv.Atoi(ctx.QueryParam("limit")); err == nil && l > 0 {
		limit = l
	}

	lessons, err := api.svc.LessonHistory(ctx.Request().Context(), learnerID, limit)
	if err != nil {
		return errors.Wrap(err, "querying lesson history")
	}
	return ctx.JSON(http.StatusOK, lessons)
}

func (api *learnerApi) createLesson(ctx echo.Context) error {
	var data NewLessonRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewLessonRequest")
	}
	if data.LearnerID == 0 {
		return errLearnerIDRequired
	}
	ctxUsr, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return err
	}
	ok, err := api.canAccess(ctx, ctxUsr, data.LearnerID)
	if err != nil {
		return err
	}
	if !ok {
		return errHttpForbidden
	}
	if err = data.NewLesson.Validate(api.validate); err != nil {
		return err
	}

	lesson, err := api.svc.CreateLesson(ctx.Request().Context(), data.LearnerID, data.NewLesson)
	if err != nil {
		return errors.Wrap(err, "creating lesson")
	}
	return ctx.JSON(http.StatusCreated, lesson)
}

func (api *learnerApi) answer(ctx echo.Context) error {
	var data AnswerRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to AnswerRequest")
	}
	if data.Answers == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "answers must be an array")
	}
	ctxUsr, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return err
	}

	res, err := api.svc.SubmitAnswers(ctx.Request().Context(), ctxUsr.ID, ctx.Param("lessonId"), data.Answers)
	if err != nil {
		return errors.Wrap(err, "submitting answers")
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *learnerApi) achievements(ctx echo.Context) error {
	learnerID, err := api.targetLearner(ctx)
	if err != nil {
		return err
	}
	achievements, err := api.svc.Achievements(ctx.Request().Context(), learnerID)
	if err != nil {
		return errors.Wrap(err, "querying achievements")
	}
	return ctx.JSON(http.StatusOK, achievements)
}

// export downloads everything stored about a learner, as the sync would copy it.
func (api *learnerApi) export(ctx echo.Context) error {
	learnerID, err := api.targetLearner(ctx)
	if err != nil {
		return err
	}
	reqCtx := ctx.Request().Context()

	lrn, err := api.userSvc.GetByID(reqCtx, learnerID)
	if err != nil {
		return errors.Wrap(err, "finding learner by ID")
	}
	data := LearnerExport{Learner: lrn, ExportedAt: time.Now().UTC()}

	profile, err := api.svc.GetProfile(reqCtx, learnerID)
	switch errors.Cause(err) {
	case nil:
		data.Profile = &profile
	case learner.ErrProfileNotFound:
	default:
		return errors.Wrap(err, "getting learner profile")
	}
	if data.Lessons, err = api.svc.LessonHistory(reqCtx, learnerID, dbsync.LessonHistoryLimit); err != nil {
		return errors.Wrap(err, "querying lesson history")
	}
	if data.Achievements, err = api.svc.Achievements(reqCtx, learnerID); err != nil {
		return errors.Wrap(err, "querying achievements")
	}

	filename := fmt.Sprintf("learner-data-%d-%s.json", learnerID, data.ExportedAt.Format("2006-01-02"))
	ctx.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", filename))
	return ctx.JSON(http.StatusOK, data)
}

type (
	NewLessonRequest struct {
		LearnerID int `json:"learnerId"`
		learner.NewLesson
	}

	AnswerRequest struct {
		Answers []int `json:"answers"`
	}

	LearnerExport struct {
		Learner      user.User             `json:"learner"`
		Profile      *learner.Profile      `json:"profile"`
		Lessons      []learner.Lesson      `json:"lessons"`
		Achievements []learner.Achievement `json:"achievements"`
		ExportedAt   time.Time             `json:"exportedAt"`
	}
)
