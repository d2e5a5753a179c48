package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/quickentry-backend/internal/domain/entries"
	"github.com/yungbote/quickentry-backend/internal/platform/apierr"
)

// StatusOf maps an error to the HTTP status and code sent to the caller.
// An apierr.Error wins over the entry error kind.
func StatusOf(err error) (int, string) {
	var ae *apierr.Error
	if errors.As(err, &ae) && ae.Status != 0 {
		return ae.Status, ae.Code
	}
	switch entries.KindOf(err) {
	case entries.KindValidation:
		return http.StatusBadRequest, "validation_error"
	case entries.KindNotFound:
		return http.StatusNotFound, "not_found"
	case entries.KindTimeout:
		return http.StatusGatewayTimeout, "timeout"
	case entries.KindExtractionFailed:
		return http.StatusUnprocessableEntity, "extraction_failed"
	case entries.KindClassificationUnavailable:
		return http.StatusServiceUnavailable, "classification_unavailable"
	case entries.KindEmbeddingUnavailable:
		return http.StatusServiceUnavailable, "embedding_unavailable"
	case entries.KindVectorIndexUnavailable:
		return http.StatusServiceUnavailable, "vector_index_unavailable"
	case entries.KindTranscriptionUnavailable:
		return http.StatusServiceUnavailable, "transcription_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// RespondErr writes err with the status and code from StatusOf. Internal
// failures do not leak their cause.
func RespondErr(c *gin.Context, err error) {
	status, code := StatusOf(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable && status != http.StatusGatewayTimeout {
		_ = c.Error(err)
		err = errors.New("internal error")
	}
	RespondError(c, status, code, err)
}
