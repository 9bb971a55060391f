package ports

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type HTTPHandler interface {
	RegisterRoutes(group *gin.RouterGroup)
}

type WebSocketHandler interface {
	HandleWebSocket(w http.ResponseWriter, r *http.Request)
	ConnectionCount() int
}
