package server

import (
	"net/http"
	"strings"

	"github.com/vanshika/iou/backend/internal/domain"
	"github.com/vanshika/iou/backend/internal/service"
)

const actionRepaid = "repaid"

func (h *APIHandlers) handleListIOUs(w http.ResponseWriter, r *http.Request, user domain.User) {
	query := r.URL.Query()
	list, err := h.ledger.ListForUser(r.Context(), user, service.Page{
		Limit:  parseInt(query.Get("limit"), 0),
		Offset: parseInt(query.Get("offset"), 0),
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, listIOUsResponse{
		Owed:         h.toIOUResponses(list.Owed),
		Owing:        h.toIOUResponses(list.Owing),
		HasMoreOwed:  list.HasMoreOwed,
		HasMoreOwing: list.HasMoreOwing,
	})
}

func (h *APIHandlers) handleCreateIOU(w http.ResponseWriter, r *http.Request, user domain.User) {
	var payload createIOURequest
	if !h.decode(w, r, &payload) {
		return
	}
	view, err := h.ledger.Create(r.Context(), user, service.NewIOU{
		ToUserID:    payload.ToUserID,
		ToPhone:     payload.ToPhone,
		ToName:      payload.ToName,
		Description: payload.Description,
		PhotoURL:    payload.PhotoURL,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, iouEnvelope{IOU: h.toIOUResponse(view)})
}

func (h *APIHandlers) handleListArchived(w http.ResponseWriter, r *http.Request, user domain.User) {
	views, err := h.ledger.ListArchived(r.Context(), user)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, iouListEnvelope{IOUs: h.toIOUResponses(views)})
}

func (h *APIHandlers) handleSharedIOU(w http.ResponseWriter, r *http.Request) {
	view, err := h.ledger.GetByShareToken(r.Context(), r.PathValue("token"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, iouEnvelope{IOU: h.toIOUResponse(view)})
}

func (h *APIHandlers) handleGetIOU(w http.ResponseWriter, r *http.Request, user domain.User) {
	view, err := h.ledger.Get(r.Context(), user, r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, iouEnvelope{IOU: h.toIOUResponse(view)})
}

func (h *APIHandlers) handleUpdateIOU(w http.ResponseWriter, r *http.Request, user domain.User) {
	var payload updateIOURequest
	if !h.decode(w, r, &payload) {
		return
	}
	if payload.Action != actionRepaid {
		writeError(w, http.StatusBadRequest, "Invalid action")
		return
	}
	view, err := h.ledger.MarkRepaid(r.Context(), user, r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, iouEnvelope{IOU: h.toIOUResponse(view)})
}

func (h *APIHandlers) handleClaimIOU(w http.ResponseWriter, r *http.Request, user domain.User) {
	view, err := h.ledger.Claim(r.Context(), user, r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, iouEnvelope{IOU: h.toIOUResponse(view)})
}

func (h *APIHandlers) handleArchiveIOU(w http.ResponseWriter, r *http.Request, user domain.User) {
	if err := h.ledger.Archive(r.Context(), user, r.PathValue("id")); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, successResponse{Success: true})
}

func (h *APIHandlers) handleUnarchiveIOU(w http.ResponseWriter, r *http.Request, user domain.User) {
	if err := h.ledger.Unarchive(r.Context(), user, r.PathValue("id")); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, successResponse{Success: true})
}

func (h *APIHandlers) handleContacts(w http.ResponseWriter, r *http.Request, user domain.User) {
	contacts, err := h.ledger.Contacts(r.Context(), user)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	resp := contactsResponse{Contacts: make([]contactResponse, 0, len(contacts))}
	for _, c := range contacts {
		resp.Contacts = append(resp.Contacts, contactResponse{
			UserID:    c.UserID,
			Phone:     c.Phone,
			Name:      c.Name,
			LastIOUAt: formatTime(c.LastIOUAt),
		})
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *APIHandlers) handleBalance(w http.ResponseWriter, r *http.Request, user domain.User) {
	b, err := h.ledger.Balance(r.Context(), user)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, balanceResponse{Owe: b.Owe, Owed: b.Owed})
}

func (h *APIHandlers) toIOUResponses(views []domain.IOUView) []iouResponse {
	out := make([]iouResponse, 0, len(views))
	for _, v := range views {
		out = append(out, h.toIOUResponse(v))
	}
	return out
}

func (h *APIHandlers) toIOUResponse(v domain.IOUView) iouResponse {
	resp := iouResponse{
		ID:          v.ID,
		FromUserID:  v.FromUserID,
		ToUserID:    v.ToUserID,
		ToPhone:     v.ToPhone,
		ToName:      v.ToName,
		Description: v.Description,
		PhotoURL:    v.PhotoURL,
		Status:      string(v.Status),
		ShareToken:  v.ShareToken,
		ShareURL:    strings.TrimRight(h.publicBaseURL, "/") + "/share/" + v.ShareToken,
		CreatedAt:   formatTime(v.CreatedAt),
		RepaidAt:    formatTimePtr(v.RepaidAt),
	}
	if v.From != nil {
		u := toUserResponse(*v.From)
		resp.From = &u
	}
	if v.To != nil {
		u := toUserResponse(*v.To)
		resp.To = &u
	}
	return resp
}
