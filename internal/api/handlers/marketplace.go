// marketplace.go — обработчики чтения предложений и договоров.
// GET /offerings, GET /offerings/provider/{account},
// GET /agreements, GET /agreements/consumer/{consumer},
// GET /agreements/provider/{provider}, GET /agreements/{id}.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/storagemarket/internal/api/errors"
	"github.com/bigkaa/storagemarket/internal/service"
)

// ListOfferings возвращает доступные предложения.
// GET /offerings
func (h *APIHandler) ListOfferings(w http.ResponseWriter, r *http.Request) {
	offerings, err := h.marketplace.ListOfferings(r.Context())
	if err != nil {
		h.internalError(w, "Ошибка получения предложений", err)
		return
	}
	writeJSON(w, http.StatusOK, toOfferingResponses(offerings))
}

// ListOfferingsByProvider возвращает все предложения провайдера, включая снятые.
// GET /offerings/provider/{account}
func (h *APIHandler) ListOfferingsByProvider(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	offerings, err := h.marketplace.ListOfferingsByProvider(r.Context(), account)
	if err != nil {
		h.internalError(w, "Ошибка получения предложений провайдера", err,
			slog.String("account", account))
		return
	}
	writeJSON(w, http.StatusOK, toOfferingResponses(offerings))
}

// ListAgreements возвращает все договоры.
// GET /agreements
func (h *APIHandler) ListAgreements(w http.ResponseWriter, r *http.Request) {
	agreements, err := h.marketplace.ListAgreements(r.Context())
	if err != nil {
		h.internalError(w, "Ошибка получения договоров", err)
		return
	}
	writeJSON(w, http.StatusOK, toAgreementResponses(agreements))
}

// ListAgreementsByConsumer возвращает договоры потребителя.
// GET /agreements/consumer/{consumer}
func (h *APIHandler) ListAgreementsByConsumer(w http.ResponseWriter, r *http.Request) {
	consumer := chi.URLParam(r, "consumer")
	agreements, err := h.marketplace.ListAgreementsByConsumer(r.Context(), consumer)
	if err != nil {
		h.internalError(w, "Ошибка получения договоров потребителя", err,
			slog.String("consumer", consumer))
		return
	}
	writeJSON(w, http.StatusOK, toAgreementResponses(agreements))
}

// ListAgreementsByProvider возвращает договоры провайдера.
// GET /agreements/provider/{provider}
func (h *APIHandler) ListAgreementsByProvider(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	agreements, err := h.marketplace.ListAgreementsByProvider(r.Context(), provider)
	if err != nil {
		h.internalError(w, "Ошибка получения договоров провайдера", err,
			slog.String("provider", provider))
		return
	}
	writeJSON(w, http.StatusOK, toAgreementResponses(agreements))
}

// GetAgreement возвращает договор по id.
// GET /agreements/{id}
func (h *APIHandler) GetAgreement(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	agreement, err := h.marketplace.GetAgreement(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidAgreementID):
			apierrors.ValidationError(w, "Идентификатор договора должен быть неотрицательным целым числом")
		case errors.Is(err, service.ErrNotFound):
			apierrors.NotFound(w, "Договор не найден")
		default:
			h.internalError(w, "Ошибка получения договора", err, slog.String("agreement_id", id))
		}
		return
	}
	writeJSON(w, http.StatusOK, toAgreementResponse(agreement))
}

// internalError логирует ошибку и возвращает 500.
func (h *APIHandler) internalError(w http.ResponseWriter, msg string, err error, attrs ...any) {
	h.logger.Error(msg, append([]any{slog.String("error", err.Error())}, attrs...)...)
	apierrors.InternalError(w, "Внутренняя ошибка сервера")
}
