package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/sunschool/sunschool/core/dbsync"
	"github.com/sunschool/sunschool/core/user"
)

const syncStartedMessage = "Synchronization started"

type syncApi struct {
	userSvc  *user.Service
	svc      *dbsync.Service
	validate *validator.Validate
}

func registerSyncAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	userSvc *user.Service,
	svc *dbsync.Service,
	validate *validator.Validate,
) {
	api := syncApi{
		userSvc:  userSvc,
		svc:      svc,
		validate: validate,
	}

	sg := g.Group("/sync-configs", jwt, roleMiddleware(userSvc, user.RoleParent))
	sg.GET("", api.query)
	sg.POST("", api.create)
	sg.GET("/:id", api.retrieve)
	sg.PUT("/:id", api.update)
	sg.DELETE("/:id", api.destroy)
	sg.POST("/:id/push", api.push)
}

// Handlers

func (api *syncApi) query(ctx echo.Context) error {
	parent, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return err
	}
	configs, err := api.svc.Query(ctx.Request().Context(), parent.ID)
	if err != nil {
		return errors.Wrap(err, "querying sync configs")
	}
	return ctx.JSON(http.StatusOK, configs)
}

func (api *syncApi) create(ctx echo.Context) error {
	var data dbsync.NewConfig
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewConfig")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	parent, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return err
	}

	cfg, err := api.svc.Create(ctx.Request().Context(), parent.ID, data)
	if err != nil {
		return errors.Wrap(err, "creating sync config")
	}
	return ctx.JSON(http.StatusCreated, cfg)
}

func (api *syncApi) retrieve(ctx echo.Context) error {
	parent, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return err
	}
	cfg, err := api.svc.Get(ctx.Request().Context(), parent.ID, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting sync config")
	}
	return ctx.JSON(http.StatusOK, cfg)
}

func (api *syncApi) update(ctx echo.Context) error {
	var data dbsync.UpdateConfig
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateConfig")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	parent, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return err
	}

	cfg, err := api.svc.Update(ctx.Request().Context(), parent.ID, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "updating sync config")
	}
	return ctx.JSON(http.StatusOK, cfg)
}

func (api *syncApi) destroy(ctx echo.Context) error {
	parent, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return err
	}
	if err = api.svc.Delete(ctx.Request().Context(), parent.ID, ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting sync config")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// push starts a synchronization and returns right away; clients poll the config for its outcome.
func (api *syncApi) push(ctx echo.Context) error {
	parent, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return err
	}
	cfg, err := api.svc.Trigger(ctx.Request().Context(), parent.ID, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "triggering synchronization")
	}
	return ctx.JSON(http.StatusOK, PushResponse{
		Message: syncStartedMessage,
		SyncID:  cfg.ID,
		Status:  cfg.SyncStatus,
	})
}

type PushResponse struct {
	Message string `json:"message"`
	SyncID  string `json:"syncId"`
	Status  string `json:"status"`
}
