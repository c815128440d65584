// transfers.go — состояние передач и список подключённых провайдеров.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/storagemarket/internal/api/errors"
	"github.com/bigkaa/storagemarket/internal/dispatch"
)

// GetTransfer возвращает состояние передачи.
// GET /transfers/{fileId}?wait=30s — long-poll до конечного состояния,
// wait ограничен сверху MaxWait. По истечении wait возвращается текущий снимок.
func (h *APIHandler) GetTransfer(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "fileId")
	if !dispatch.ValidFileID(fileID) {
		apierrors.ValidationError(w, "fileId должен состоять из 32 hex-символов")
		return
	}

	var wait time.Duration
	if raw := r.URL.Query().Get("wait"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			apierrors.ValidationError(w, "Некорректный параметр wait, ожидается длительность (например 30s)")
			return
		}
		wait = min(d, h.maxWait)
	}

	transfer, err := h.tracker.Status(fileID)
	if err == nil && wait > 0 && !transfer.Status.Terminal() {
		ctx, cancel := context.WithTimeout(r.Context(), wait)
		transfer, err = h.tracker.Wait(ctx, fileID)
		cancel()
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			err = nil
		}
	}
	if err != nil {
		if errors.Is(err, dispatch.ErrTransferNotFound) {
			apierrors.NotFound(w, "Передача не найдена")
			return
		}
		h.internalError(w, "Ошибка получения передачи", err)
		return
	}

	writeJSON(w, http.StatusOK, toTransferResponse(transfer))
}

// ListProviders возвращает подключённых провайдеров в порядке подключения.
// GET /providers
func (h *APIHandler) ListProviders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toProviderResponses(h.providers.List()))
}
