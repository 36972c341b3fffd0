package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"attendtrack/internal/apperr"
	"attendtrack/internal/identity"
)

type signupRequest struct {
	Name       string `json:"name" binding:"required,max=100"`
	Email      string `json:"email" binding:"required,email"`
	Password   string `json:"password" binding:"required,min=6"`
	Department string `json:"department" binding:"max=100"`
	EmployeeID string `json:"employeeId" binding:"max=50"`
	Image      string `json:"image"`
}

type registerRequest struct {
	signupRequest
	Role string `json:"role" binding:"omitempty,oneof=admin user"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type passwordRequest struct {
	CurrentPassword string `json:"currentPassword" binding:"required"`
	NewPassword     string `json:"newPassword" binding:"required,min=6"`
}

type updateUserRequest struct {
	Name       *string `json:"name" binding:"omitempty,min=1,max=100"`
	Email      *string `json:"email" binding:"omitempty,email"`
	Role       *string `json:"role" binding:"omitempty,oneof=admin user"`
	Department *string `json:"department" binding:"omitempty,max=100"`
	EmployeeID *string `json:"employeeId" binding:"omitempty,max=50"`
	IsActive   *bool   `json:"isActive"`
	Image      *string `json:"image"`
}

func (r signupRequest) toNewUser(role string) identity.NewUser {
	return identity.NewUser{
		Name:       r.Name,
		Email:      r.Email,
		Password:   r.Password,
		Role:       role,
		Department: r.Department,
		EmployeeID: r.EmployeeID,
		Image:      r.Image,
	}
}

// POST /api/auth/signup
func (h *Handler) Signup(c *gin.Context) {
	var req signupRequest
	if err := bind(c, &req); err != nil {
		h.fail(c, err, nil)
		return
	}
	u, err := h.users.Register(c.Request.Context(), req.toNewUser(""), false)
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	ok(c, http.StatusCreated, "User registered successfully", u)
}

// POST /api/auth/register
func (h *Handler) RegisterUser(c *gin.Context) {
	var req registerRequest
	if err := bind(c, &req); err != nil {
		h.fail(c, err, nil)
		return
	}
	u, err := h.users.Register(c.Request.Context(), req.toNewUser(req.Role), true)
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	ok(c, http.StatusCreated, "User registered successfully", u)
}

// POST /api/auth/login
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := bind(c, &req); err != nil {
		h.fail(c, err, nil)
		return
	}
	sess, err := h.users.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	ok(c, http.StatusOK, "Login successful", sess)
}

// GET /api/auth/me
func (h *Handler) Me(c *gin.Context) {
	u, err := h.users.Get(c.Request.Context(), actorOf(c).ID)
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	ok(c, http.StatusOK, "", u)
}

// PUT /api/auth/password
func (h *Handler) ChangePassword(c *gin.Context) {
	var req passwordRequest
	if err := bind(c, &req); err != nil {
		h.fail(c, err, nil)
		return
	}
	if err := h.users.ChangePassword(c.Request.Context(), actorOf(c).ID, req.CurrentPassword, req.NewPassword); err != nil {
		h.fail(c, err, nil)
		return
	}
	ok(c, http.StatusOK, "Password updated successfully", nil)
}

// GET /api/users
func (h *Handler) ListUsers(c *gin.Context) {
	users, err := h.users.List(c.Request.Context(), identity.UserFilter{
		Role:       c.Query("role"),
		Department: c.Query("department"),
		Search:     c.Query("search"),
	})
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	ok(c, http.StatusOK, "", gin.H{"count": len(users), "users": users})
}

// GET /api/users/stats
func (h *Handler) UserStats(c *gin.Context) {
	st, err := h.users.Stats(c.Request.Context())
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	ok(c, http.StatusOK, "", st)
}

// GET /api/users/:id
func (h *Handler) GetUser(c *gin.Context) {
	id := c.Param("id")
	if actor := actorOf(c); !actor.IsAdmin() && actor.ID != id {
		h.fail(c, apperr.Forbidden("not authorized to view this user"), nil)
		return
	}
	u, err := h.users.Get(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	ok(c, http.StatusOK, "", u)
}

// PUT /api/users/:id
func (h *Handler) UpdateUser(c *gin.Context) {
	var req updateUserRequest
	if err := bind(c, &req); err != nil {
		h.fail(c, err, nil)
		return
	}
	u, err := h.users.Update(c.Request.Context(), actorOf(c), c.Param("id"), identity.UserPatch{
		Name:       req.Name,
		Email:      req.Email,
		Role:       req.Role,
		Department: req.Department,
		EmployeeID: req.EmployeeID,
		IsActive:   req.IsActive,
		Image:      req.Image,
	})
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	ok(c, http.StatusOK, "User updated successfully", u)
}

// DELETE /api/users/:id
func (h *Handler) DeleteUser(c *gin.Context) {
	id := c.Param("id")
	if id == actorOf(c).ID {
		h.fail(c, apperr.Validation("you cannot delete your own account"), nil)
		return
	}
	if err := h.users.Delete(c.Request.Context(), id); err != nil {
		h.fail(c, err, nil)
		return
	}
	ok(c, http.StatusOK, "User deleted successfully", nil)
}
