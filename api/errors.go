package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"tdln.foundry/receipts/certify"
	"tdln.foundry/receipts/cidutil"
	"tdln.foundry/receipts/receipt"
	"tdln.foundry/receipts/storage"
)

// Error kinds reported in {"error":{"kind","message"}} bodies.
const (
	KindBadRequest     = "BadRequest"
	KindBadRealm       = "BadRealm"
	KindUnknownProfile = "UnknownProfile"
	KindNoRecords      = "NoRecords"
	KindInvalidCID     = "InvalidCID"
	KindIntegrity      = "IntegrityError"
	KindUnavailable    = "Unavailable"
	KindInternal       = "Internal"
)

type errorBody struct {
	Error struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}

func writeError(w http.ResponseWriter, status int, kind, msg string) {
	var body errorBody
	body.Error.Kind = kind
	body.Error.Message = msg
	writeJSON(w, status, body)
}

// writeErr maps library errors onto status codes.
func writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, certify.ErrBadRealm):
		writeError(w, http.StatusBadRequest, KindBadRealm, err.Error())
	case errors.Is(err, certify.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, KindBadRequest, err.Error())
	case errors.Is(err, receipt.ErrNoRecords):
		writeError(w, http.StatusBadRequest, KindNoRecords, err.Error())
	case cidutil.IsKind(err, cidutil.KindParse):
		writeError(w, http.StatusBadRequest, string(cidutil.KindParse), err.Error())
	case errors.Is(err, storage.ErrInvalidCID):
		writeError(w, http.StatusBadRequest, KindInvalidCID, err.Error())
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, string(cidutil.KindNotFound), err.Error())
	case errors.Is(err, storage.ErrCIDMismatch), errors.Is(err, storage.ErrImmutable):
		writeError(w, http.StatusInternalServerError, KindIntegrity, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, KindInternal, err.Error())
	}
}
