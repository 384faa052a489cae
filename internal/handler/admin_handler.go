package handler

import (
	"errors"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/portfolio/internal/service"
)

const ownerContextKey = "owner"

type loginRequest struct {
	Username string `json:"username" form:"username" binding:"required"`
	Password string `json:"password" form:"password" binding:"required"`
}

// Login 校验用户名密码并写入会话。
func (a *API) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBind(&req); err != nil {
		respondError(c, http.StatusBadRequest, "用户名和密码不能为空")
		return
	}

	owner, err := a.users.Authenticate(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			respondError(c, http.StatusUnauthorized, "用户名或密码错误")
			return
		}
		c.Error(err)
		respondError(c, http.StatusInternalServerError, "登录失败")
		return
	}

	session := sessions.Default(c)
	session.Set("user_id", owner.ID)
	session.Set("username", owner.Username)
	if err := session.Save(); err != nil {
		respondError(c, http.StatusInternalServerError, "会话保存失败")
		return
	}

	c.JSON(http.StatusOK, gin.H{"username": owner.Username})
}

// Logout 清除会话
func (a *API) Logout(c *gin.Context) {
	session := sessions.Default(c)
	session.Clear()
	session.Save()
	c.Status(http.StatusNoContent)
}

// AuthRequired 校验会话，并确认会话中的用户仍然存在；账号被删除后旧 cookie 立即失效。
func (a *API) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		id, ok := session.Get("user_id").(uint)
		if !ok {
			respondError(c, http.StatusUnauthorized, "未登录")
			c.Abort()
			return
		}

		owner, err := a.users.FindUserByID(c.Request.Context(), id)
		if err != nil {
			if errors.Is(err, service.ErrUserNotFound) {
				session.Clear()
				session.Save()
				respondError(c, http.StatusUnauthorized, "未登录")
				c.Abort()
				return
			}
			c.Error(err)
			respondError(c, http.StatusInternalServerError, "会话校验失败")
			c.Abort()
			return
		}

		c.Set(ownerContextKey, owner)
		c.Next()
	}
}
