package controller

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"collab-messenger/database"
	"collab-messenger/model"

	"github.com/gofiber/fiber/v2"
	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"
)

type AuthSignupInput struct {
	Username string `json:"username" validate:"required,min=3,max=64"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type AuthLoginInput struct {
	Login    string `json:"login" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type AuthRenewTokenInput struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type AuthOtpSecretInput struct {
	Password string `json:"password" validate:"required"`
}

type AuthOtpTokenInput struct {
	Token string `json:"token" validate:"required,numeric,len=6"`
}

type AuthOtpDisableInput struct {
	Password string `json:"password" validate:"required"`
	Token    string `json:"token" validate:"required,numeric,len=6"`
}

func (h *Handler) AuthSignup(c *fiber.Ctx) error {
	input := new(AuthSignupInput)
	if err := h.parse(c, input); err != nil {
		return h.fail(c, err)
	}

	hash, err := h.hash(input.Password)
	if err != nil {
		return h.fail(c, err)
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      h.otpIssuer,
		AccountName: input.Email,
		SecretSize:  15,
	})
	if err != nil {
		return h.fail(c, err)
	}

	user := &model.User{
		Username:  input.Username,
		Email:     input.Email,
		Password:  hash,
		Role:      database.RoleUser,
		OtpSecret: key.Secret(),
	}
	if err := h.store.CreateUser(c.UserContext(), user); err != nil {
		return h.fail(c, err)
	}

	if _, err := h.roles.AddGroupingPolicy(strconv.FormatUint(uint64(user.ID), 10), user.Role); err != nil {
		h.log.Error().Err(err).Uint("user", user.ID).Msg("assign role")
	}

	return success(c, fiber.Map{"id": user.ID})
}

func (h *Handler) AuthSignin(c *fiber.Ctx) error {
	input := new(AuthLoginInput)
	if err := h.parse(c, input); err != nil {
		return h.fail(c, err)
	}

	user, err := h.store.UserByLogin(c.UserContext(), input.Login)
	if errors.Is(err, model.ErrNotFound) {
		return failure(c, fiber.StatusUnauthorized, "Invalid login or password")
	}
	if err != nil {
		return h.fail(c, err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(input.Password)); err != nil {
		return failure(c, fiber.StatusUnauthorized, "Invalid login or password")
	}

	return h.issue(c, user.ID, user.OtpEnabled)
}

func (h *Handler) AuthTokenRenew(c *fiber.Ctx) error {
	input := new(AuthRenewTokenInput)
	if err := h.parse(c, input); err != nil {
		return h.fail(c, err)
	}

	meta, err := h.tokens.ParseRefresh(input.RefreshToken)
	if err != nil {
		return failure(c, fiber.StatusUnauthorized, "Invalid token")
	}

	live, err := h.refresh.Load(c.UserContext(), meta.ID)
	if err != nil {
		return h.fail(c, fmt.Errorf("load refresh token: %w: %v", model.ErrStorage, err))
	}
	if live != input.RefreshToken {
		return failure(c, fiber.StatusUnauthorized, "Unauthorized, your refresh token was already used")
	}

	return h.issue(c, meta.ID, meta.Otp)
}

func (h *Handler) AuthOtpSecret(c *fiber.Ctx) error {
	input := new(AuthOtpSecretInput)
	if err := h.parse(c, input); err != nil {
		return h.fail(c, err)
	}
	user, err := h.currentUserModel(c)
	if err != nil {
		return h.fail(c, err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(input.Password)); err != nil {
		return failure(c, fiber.StatusUnauthorized, "Invalid password")
	}

	issuer := url.PathEscape(h.otpIssuer)
	return success(c, fiber.Map{
		"secret": user.OtpSecret,
		"url": fmt.Sprintf("otpauth://totp/%s:%s?algorithm=SHA1&digits=6&issuer=%s&period=30&secret=%s",
			issuer,
			url.PathEscape(user.Email),
			url.QueryEscape(h.otpIssuer),
			user.OtpSecret,
		),
	})
}

func (h *Handler) AuthOtpVerify(c *fiber.Ctx) error {
	input := new(AuthOtpTokenInput)
	if err := h.parse(c, input); err != nil {
		return h.fail(c, err)
	}
	user, err := h.currentUserModel(c)
	if err != nil {
		return h.fail(c, err)
	}

	if user.OtpEnabled {
		return failure(c, fiber.StatusConflict, "Verification has already been performed earlier")
	}
	if !totp.Validate(input.Token, user.OtpSecret) {
		return failure(c, fiber.StatusUnauthorized, "Invalid token")
	}

	if err := h.store.SetOtpEnabled(c.UserContext(), user.ID, true); err != nil {
		return h.fail(c, err)
	}
	return success(c, nil)
}

// AuthOtpValidate completes the second factor and issues tokens without the
// pending flag.
func (h *Handler) AuthOtpValidate(c *fiber.Ctx) error {
	input := new(AuthOtpTokenInput)
	if err := h.parse(c, input); err != nil {
		return h.fail(c, err)
	}
	user, err := h.currentUserModel(c)
	if err != nil {
		return h.fail(c, err)
	}

	if !user.OtpEnabled {
		return failure(c, fiber.StatusBadRequest, "2FA has been disabled")
	}
	if !totp.Validate(input.Token, user.OtpSecret) {
		return failure(c, fiber.StatusUnauthorized, "Invalid token")
	}

	return h.issue(c, user.ID, false)
}

func (h *Handler) AuthOtpDisable(c *fiber.Ctx) error {
	input := new(AuthOtpDisableInput)
	if err := h.parse(c, input); err != nil {
		return h.fail(c, err)
	}
	user, err := h.currentUserModel(c)
	if err != nil {
		return h.fail(c, err)
	}

	if !user.OtpEnabled {
		return failure(c, fiber.StatusBadRequest, "2fa not enabled")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(input.Password)); err != nil {
		return failure(c, fiber.StatusUnauthorized, "Invalid password")
	}
	if !totp.Validate(input.Token, user.OtpSecret) {
		return failure(c, fiber.StatusUnauthorized, "Invalid token")
	}

	if err := h.store.SetOtpEnabled(c.UserContext(), user.ID, false); err != nil {
		return h.fail(c, err)
	}
	return success(c, nil)
}

func (h *Handler) UserProfile(c *fiber.Ctx) error {
	user, err := h.currentUserModel(c)
	if err != nil {
		return h.fail(c, err)
	}
	return success(c, fiber.Map{
		"id":       user.ID,
		"created":  user.CreatedAt.Unix(),
		"username": user.Username,
		"email":    user.Email,
		"role":     user.Role,
		"otp":      user.OtpEnabled,
	})
}

// issue signs a token pair and stores the refresh token as the live one.
func (h *Handler) issue(c *fiber.Ctx, userID uint, otpPending bool) error {
	tokens, err := h.tokens.Generate(userID, otpPending)
	if err != nil {
		return h.fail(c, err)
	}
	if err := h.refresh.Save(c.UserContext(), userID, tokens.Refresh); err != nil {
		return h.fail(c, fmt.Errorf("save refresh token: %w: %v", model.ErrStorage, err))
	}
	return success(c, fiber.Map{
		"access":  tokens.Access,
		"refresh": tokens.Refresh,
		"2fa":     otpPending,
	})
}

func (h *Handler) currentUserModel(c *fiber.Ctx) (*model.User, error) {
	id, err := currentUser(c)
	if err != nil {
		return nil, err
	}
	user, err := h.store.User(c.UserContext(), id)
	if errors.Is(err, model.ErrNotFound) {
		return nil, fmt.Errorf("account removed: %w", model.ErrAuthentication)
	}
	return user, err
}
