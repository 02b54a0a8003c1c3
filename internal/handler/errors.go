package handler

import (
	"errors"
	"net/http"

	"byggassistent/internal/repository"
	"byggassistent/internal/retrieval"
	"byggassistent/internal/service"
	"byggassistent/pkg/llm"

	"github.com/gin-gonic/gin"
)

// statusFor 把业务错误映射为 HTTP 状态码。
func statusFor(err error) int {
	switch {
	case errors.Is(err, retrieval.ErrEmptyQuery),
		errors.Is(err, retrieval.ErrUnknownMatcher),
		errors.Is(err, retrieval.ErrUnknownSection),
		errors.Is(err, service.ErrInvalidRole):
		return http.StatusBadRequest
	case errors.Is(err, repository.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, llm.ErrQuotaExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, retrieval.ErrRetrievalUnavailable),
		errors.Is(err, llm.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// userMessage 返回给用户的提示文字。
func userMessage(err error) string {
	switch {
	case errors.Is(err, retrieval.ErrEmptyQuery):
		return "Ingen spørsmål mottatt"
	case errors.Is(err, retrieval.ErrUnknownMatcher):
		return "Ukjent søkemetode"
	case errors.Is(err, retrieval.ErrUnknownSection):
		return "Ukjent dokument"
	case errors.Is(err, service.ErrInvalidRole):
		return "Ugyldig rolle"
	case errors.Is(err, repository.ErrSessionNotFound):
		return "Sesjonen finnes ikke eller er utløpt"
	case errors.Is(err, llm.ErrQuotaExceeded):
		return "Kvoten for språkmodellen er brukt opp. Prøv igjen senere."
	case errors.Is(err, retrieval.ErrRetrievalUnavailable):
		return "Søketjenesten er midlertidig utilgjengelig"
	case errors.Is(err, llm.ErrUnavailable):
		return "Språkmodellen er midlertidig utilgjengelig"
	default:
		return "Intern feil"
	}
}

func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	c.PureJSON(status, gin.H{"code": status, "message": userMessage(err), "data": nil})
}

func respondOK(c *gin.Context, data interface{}) {
	c.PureJSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": data})
}
