package echoapi

import (
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/sunschool/sunschool/core"
	"github.com/sunschool/sunschool/core/learner"
	"github.com/sunschool/sunschool/core/user"
)

var errNoAdminRegistration = "admin accounts cannot be registered"

type userApi struct {
	jwt        jwtConfig
	svc        *user.Service
	learnerSvc *learner.Service
	validate   *validator.Validate
}

func registerUserAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	jc jwtConfig,
	svc *user.Service,
	learnerSvc *learner.Service,
	validate *validator.Validate,
) {
	api := userApi{
		jwt:        jc,
		svc:        svc,
		learnerSvc: learnerSvc,
		validate:   validate,
	}

	// un-authed endpoints
	g.POST("/login", api.login)
	g.POST("/register", api.register)

	// authed endpoints
	ag := g.Group("", jwt)
	ag.POST("/token-refresh", api.refreshToken)
	ag.GET("/user", api.me)
	ag.GET("/learners", api.learners, roleMiddleware(svc, user.RoleParent, user.RoleAdmin))
}

// Handlers

func (api *userApi) login(ctx echo.Context) error {
	var data LoginRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to LoginRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	usr, err := api.svc.Authenticate(ctx.Request().Context(), data.Username, data.Password)
	if err != nil {
		if errors.Cause(err) == user.ErrNotFound {
			return errAuthenticationFailed
		}
		return errors.Wrap(err, "authenticating")
	}
	token, err := api.jwt.generateToken(api.jwt.userClaims(usr))
	if err != nil {
		return errors.Wrap(err, "generating token")
	}

	return ctx.JSON(http.StatusOK, LoginResponse{Token: token, User: &usr})
}

func (api *userApi) register(ctx echo.Context) error {
	var data user.NewUser
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewUser")
	}
	reqCtx := ctx.Request().Context()
	if err := data.Validate(reqCtx, api.validate, api.svc); err != nil {
		return err
	}
	if data.Role == user.RoleAdmin {
		return core.NewFieldError("role", errNoAdminRegistration)
	}

	usr, err := api.svc.Create(reqCtx, data)
	if err != nil {
		return errors.Wrap(err, "creating user")
	}

	if usr.IsLearner() && data.GradeLevel != nil {
		if _, err = api.learnerSvc.GetOrCreateProfile(reqCtx, usr.ID, *data.GradeLevel); err != nil {
			return errors.Wrap(err, "creating learner profile")
		}
	}

	return ctx.JSON(http.StatusCreated, usr)
}

func (api *userApi) refreshToken(ctx echo.Context) error {
	token, err := api.jwt.refreshToken(ctx, api.svc)
	if err != nil {
		return errors.Wrap(err, "refreshing token")
	}
	return ctx.JSON(http.StatusOK, LoginResponse{Token: token})
}

func (api *userApi) me(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.svc)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, usr)
}

func (api *userApi) learners(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.svc)
	if err != nil {
		return err
	}

	parentID := ctxUsr.ID
	if ctxUsr.IsAdmin() {
		if parentID, err = strconv.Atoi(ctx.QueryParam("parentId")); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "parentId is required")
		}
	}

	children, err := api.svc.QueryChildren(ctx.Request().Context(), parentID)
	if err != nil {
		return errors.Wrap(err, "querying learners")
	}
	return ctx.JSON(http.StatusOK, children)
}

type (
	LoginRequest struct {
		Username string `json:"username" validate:"required"`
		Password string `json:"password" validate:"required"`
	}

	LoginResponse struct {
		Token string     `json:"token"`
		User  *user.User `json:"user,omitempty"`
	}
)

func (lr *LoginRequest) Validate(validate *validator.Validate) error {
	lr.Username = core.CleanString(lr.Username, true /* lower */)
	return validate.Struct(lr)
}
