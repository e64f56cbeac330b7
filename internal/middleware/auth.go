// Package middleware 提供了处理 HTTP 请求的中间件。
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/nhdandz/SmartDoc/pkg/log"
	"github.com/nhdandz/SmartDoc/pkg/token"
)

const (
	principalKey = "principal"
	claimsKey    = "claims"
)

// AuthMiddleware 创建一个 Gin 中间件，用于 JWT 认证。
// token 取自 Authorization 请求头；WebSocket 握手无法设置请求头，因此也接受 ?token= 查询参数。
func AuthMiddleware(jwtManager *token.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := bearerToken(c)
		if !ok {
			abortUnauthorized(c, "请求未包含有效的授权信息")
			return
		}

		claims, err := jwtManager.VerifyToken(tokenString)
		if err != nil {
			log.Warnf("[Auth] token 校验失败: %v", err)
			abortUnauthorized(c, "无效或已过期的 token")
			return
		}

		c.Set(principalKey, claims.Principal())
		c.Set(claimsKey, claims)
		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	const bearerPrefix = "Bearer "
	if authHeader := c.GetHeader("Authorization"); authHeader != "" {
		if !strings.HasPrefix(authHeader, bearerPrefix) {
			return "", false
		}
		tok := strings.TrimSpace(strings.TrimPrefix(authHeader, bearerPrefix))
		return tok, tok != ""
	}
	tok := c.Query("token")
	return tok, tok != ""
}

func abortUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": message, "data": nil})
}

// Principal 返回 AuthMiddleware 写入上下文的调用方标识。
func Principal(c *gin.Context) string {
	return c.GetString(principalKey)
}

// Claims 返回当前请求的 token claims。
func Claims(c *gin.Context) (*token.CustomClaims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*token.CustomClaims)
	return claims, ok
}
