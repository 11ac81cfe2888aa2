package api

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"

	"github.com/auxchat/auxchat-backend/energy"
	"github.com/auxchat/auxchat-backend/metrics"
)

// webhookSecretHeader carries the shared secret of the payment provider.
const webhookSecretHeader = "X-Webhook-Secret"

func (a *API) getBalance(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Energy int64 `json:"energy"`
	}

	userID, ok := a.userID(w, r)
	if !ok {
		return
	}

	balance, err := a.DB.Balance(r.Context(), userID)
	if errors.Is(err, ErrNotFound) {
		a.respondError(w, http.StatusNotFound, err, "User not found")
		return
	}
	if err != nil {
		a.respondError(w, http.StatusInternalServerError, err, "Could not get balance")
		return
	}

	a.respond(w, http.StatusOK, response{Energy: balance})
}

func (a *API) getQuote(w http.ResponseWriter, r *http.Request) {
	amount, err := strconv.ParseInt(r.URL.Query().Get("amount"), 10, 64)
	if err != nil {
		a.respondError(w, http.StatusBadRequest, err, codeValidation)
		return
	}
	if err := a.Pricing.ValidateAmount(amount); err != nil {
		a.respondError(w, http.StatusBadRequest, err, codeValidation)
		return
	}
	a.respond(w, http.StatusOK, a.Pricing.Quote(amount))
}

func (a *API) createPurchase(w http.ResponseWriter, r *http.Request) {
	type request struct {
		Amount int64  `json:"amount" validate:"required"`
		Method string `json:"method" validate:"required,payment_method"`
	}

	userID, ok := a.userID(w, r)
	if !ok {
		return
	}

	var body request
	if !a.decode(w, r, &body) {
		return
	}
	if err := a.Pricing.ValidateAmount(body.Amount); err != nil {
		a.respondError(w, http.StatusBadRequest, err, codeValidation)
		return
	}

	quote := a.Pricing.Quote(body.Amount)
	purchase, err := a.Wallet.CreatePurchase(r.Context(), Purchase{
		UserID:     userID,
		AmountPaid: quote.AmountPaid,
		Energy:     quote.Energy,
		Discount:   quote.Discount,
		Method:     energy.PaymentMethod(body.Method),
		Status:     PurchasePending,
		CreatedAt:  a.Now().UTC(),
	})
	if err != nil {
		a.respondError(w, http.StatusInternalServerError, err, "Could not create purchase")
		return
	}
	metrics.ObservePurchase(body.Method, string(PurchasePending))

	a.respond(w, http.StatusCreated, purchase)
}

func (a *API) confirmPurchase(w http.ResponseWriter, r *http.Request) {
	type response struct {
		PurchaseID int64          `json:"purchase_id"`
		UserID     int64          `json:"user_id"`
		Status     PurchaseStatus `json:"status"`
		Energy     int64          `json:"energy"`
	}

	secret := r.Header.Get(webhookSecretHeader)
	if a.WebhookSecret == "" || subtle.ConstantTimeCompare([]byte(secret), []byte(a.WebhookSecret)) != 1 {
		a.respondError(w, http.StatusUnauthorized, ErrUnauthenticated, "Unauthorized")
		return
	}
	purchaseID, ok := a.pathID(w, r, "purchaseID")
	if !ok {
		return
	}

	purchase, balance, err := a.Wallet.ConfirmPurchase(r.Context(), purchaseID)
	if errors.Is(err, ErrNotFound) {
		a.respondError(w, http.StatusNotFound, err, "Purchase not found")
		return
	}
	if err != nil {
		a.respondError(w, http.StatusInternalServerError, err, "Could not confirm purchase")
		return
	}
	metrics.ObservePurchase(string(purchase.Method), string(purchase.Status))
	a.Logger.Info("Purchase confirmed", "purchase_id", purchase.ID, "user_id", purchase.UserID, "energy", balance)

	a.respond(w, http.StatusOK, response{
		PurchaseID: purchase.ID,
		UserID:     purchase.UserID,
		Status:     purchase.Status,
		Energy:     balance,
	})
}
