package controller

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"collab-messenger/messenger"
	"collab-messenger/model"
	"collab-messenger/store"
	"collab-messenger/utils"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

// RefreshStore persists the live refresh token per user.
type RefreshStore interface {
	Save(ctx context.Context, userID uint, token string) error
	Load(ctx context.Context, userID uint) (string, error)
}

// RoleAssigner grants a casbin role to a subject.
type RoleAssigner interface {
	AddGroupingPolicy(params ...interface{}) (bool, error)
}

type Deps struct {
	Store      *store.Store
	Gateway    *messenger.Gateway
	Tokens     *utils.TokenManager
	Refresh    RefreshStore
	Roles      RoleAssigner
	OtpIssuer  string
	BcryptCost int
	Log        zerolog.Logger
}

// Handler serves the /v1 REST surface.
type Handler struct {
	store      *store.Store
	gateway    *messenger.Gateway
	tokens     *utils.TokenManager
	refresh    RefreshStore
	roles      RoleAssigner
	otpIssuer  string
	bcryptCost int
	validate   *validator.Validate
	log        zerolog.Logger
}

func New(d Deps) *Handler {
	cost := d.BcryptCost
	if cost == 0 {
		cost = 14
	}
	return &Handler{
		store:      d.Store,
		gateway:    d.Gateway,
		tokens:     d.Tokens,
		refresh:    d.Refresh,
		roles:      d.Roles,
		otpIssuer:  d.OtpIssuer,
		bcryptCost: cost,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		log:        d.Log.With().Str("component", "rest").Logger(),
	}
}

func success(c *fiber.Ctx, data any) error {
	return c.JSON(fiber.Map{
		"status":  "success",
		"message": nil,
		"data":    data,
	})
}

func failure(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"status":  "error",
		"message": message,
		"data":    nil,
	})
}

// fail maps the error taxonomy onto HTTP statuses.
func (h *Handler) fail(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, model.ErrAuthentication):
		return failure(c, fiber.StatusUnauthorized, err.Error())
	case errors.Is(err, model.ErrMembership):
		return failure(c, fiber.StatusForbidden, err.Error())
	case errors.Is(err, model.ErrValidation):
		return failure(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, model.ErrNotFound):
		return failure(c, fiber.StatusNotFound, err.Error())
	case errors.Is(err, model.ErrStorage):
		h.log.Error().Err(err).Str("path", c.Path()).Msg("storage failure")
		return failure(c, fiber.StatusServiceUnavailable, "Service unavailable")
	default:
		h.log.Error().Err(err).Str("path", c.Path()).Msg("request failed")
		return failure(c, fiber.StatusInternalServerError, "Internal server error")
	}
}

// parse decodes the body into v and runs struct validation.
func (h *Handler) parse(c *fiber.Ctx, v any) error {
	if err := c.BodyParser(v); err != nil {
		return fmt.Errorf("review your input: %w", model.ErrValidation)
	}
	if err := h.validate.Struct(v); err != nil {
		return fmt.Errorf("%v: %w", err, model.ErrValidation)
	}
	return nil
}

func currentUser(c *fiber.Ctx) (uint, error) {
	token, ok := c.Locals("user").(*jwt.Token)
	if !ok {
		return 0, model.ErrAuthentication
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, model.ErrAuthentication
	}
	id, err := utils.ClaimsUserID(claims)
	if err != nil {
		return 0, model.ErrAuthentication
	}
	return id, nil
}

func paramID(c *fiber.Ctx, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Params(name), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

func (h *Handler) hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.bcryptCost)
	return string(hash), err
}
