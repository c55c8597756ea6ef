package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"pos_sales/internal/authctx"
)

// SellerHeader carries the acting user's reference.
const SellerHeader = "X-Seller-ID"

// RequireSeller rejects requests without a seller identity and stores it in
// the request context.
func RequireSeller() gin.HandlerFunc {
	return func(c *gin.Context) {
		seller := strings.TrimSpace(c.GetHeader(SellerHeader))
		if seller == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing " + SellerHeader + " header"})
			return
		}
		c.Request = c.Request.WithContext(authctx.WithSeller(c.Request.Context(), seller))
		c.Next()
	}
}
