package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"atomicswap/internal/database"
	"atomicswap/internal/models"
	"atomicswap/internal/service"
	"atomicswap/internal/swaperr"
	"atomicswap/internal/worker"
)

const (
	apiVersion       = "1.0.0"
	defaultListLimit = 50
	maxListLimit     = 500
)

// SwapService is the part of the swap service the handlers call
type SwapService interface {
	CreateSwap(ctx context.Context, in service.CreateSwapInput) (*models.Swap, error)
	GetSwap(ctx context.Context, id string) (*models.Swap, error)
	ListSwaps(ctx context.Context, filter database.ListFilter) ([]models.Swap, error)
	ListEvents(ctx context.Context, id string) ([]models.SwapEvent, error)
	RevealSecret(ctx context.Context, id string) error
	CalculateFee(fromAsset, toAsset string, amount *big.Int) (*service.FeeCalculation, error)
	GetQuote(ctx context.Context, from, to string, amount decimal.Decimal) (*service.Quote, error)
}

// Coordinator reports chain health and streams swap events
type Coordinator interface {
	ChainHealth(ctx context.Context) []worker.ChainHealth
	ActiveSwaps() int
	Subscribe() (<-chan models.SwapEvent, func())
}

// Pinger checks the store connection
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	swaps       SwapService
	coordinator Coordinator
	db          Pinger
	logger      *zap.Logger
}

// NewHandler creates a new API handler
func NewHandler(
	swaps SwapService,
	coordinator Coordinator,
	db Pinger,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		swaps:       swaps,
		coordinator: coordinator,
		db:          db,
		logger:      logger.Named("api"),
	}
}

// ==================== Health Check ====================

// HandleHealth returns service health status, including the store and every chain
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "ok",
		Version:   apiVersion,
		Database:  "ok",
		Chains:    []worker.ChainHealth{},
		CheckedAt: time.Now().UTC(),
	}

	if h.db != nil {
		if err := h.db.Ping(r.Context()); err != nil {
			h.logger.Warn("Database health check failed", zap.Error(err))
			response.Database = "unavailable"
			response.Status = "degraded"
		}
	}
	if h.coordinator != nil {
		response.ActiveSwaps = h.coordinator.ActiveSwaps()
		response.Chains = h.coordinator.ChainHealth(r.Context())
		for _, c := range response.Chains {
			if !c.Healthy {
				response.Status = "degraded"
			}
		}
	}

	status := http.StatusOK
	if response.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, response)
}

// ==================== Swaps ====================

// HandleCreateSwap handles POST /api/v1/swaps
func (h *Handler) HandleCreateSwap(w http.ResponseWriter, r *http.Request) {
	var req CreateSwapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("Failed to decode request", zap.Error(err))
		respondError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	// Validate request
	if req.FromAsset == "" || req.ToAsset == "" {
		respondError(w, http.StatusBadRequest, "from_asset and to_asset are required", nil)
		return
	}
	if req.Recipient == "" {
		respondError(w, http.StatusBadRequest, "recipient is required", nil)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}
	var toAmount *big.Int
	if req.ToAmount != "" {
		if toAmount, err = parseAmount(req.ToAmount); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid to_amount", err)
			return
		}
	}
	duration, err := parseDuration(req.TimelockDuration)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid timelock_duration", err)
		return
	}

	h.logger.Info("Creating swap",
		zap.String("from_asset", req.FromAsset),
		zap.String("to_asset", req.ToAsset),
		zap.String("amount", amount.String()),
		zap.Duration("timelock_duration", duration))

	swap, err := h.swaps.CreateSwap(r.Context(), service.CreateSwapInput{
		FromAsset:        req.FromAsset,
		ToAsset:          req.ToAsset,
		Amount:           amount,
		ToAmount:         toAmount,
		Recipient:        req.Recipient,
		TimelockDuration: duration,
	})
	if err != nil {
		h.logger.Warn("Failed to create swap", zap.Error(err))
		respondServiceError(w, "Failed to create swap", err)
		return
	}

	respondJSON(w, http.StatusCreated, CreateSwapResponse{
		SwapID:              swap.ID,
		Status:              swap.Status,
		Hashlock:            swap.Hashlock,
		SourceTimelock:      swap.Source.TimelockExpiry,
		DestinationTimelock: swap.Destination.TimelockExpiry,
	})
}

// HandleGetSwap handles GET /api/v1/swaps/{swapId}
func (h *Handler) HandleGetSwap(w http.ResponseWriter, r *http.Request) {
	swapID := mux.Vars(r)["swapId"]

	swap, err := h.swaps.GetSwap(r.Context(), swapID)
	if err != nil {
		respondServiceError(w, "Failed to get swap", err)
		return
	}
	respondJSON(w, http.StatusOK, swap)
}

// HandleListSwaps handles GET /api/v1/swaps?status=&limit=&offset=
func (h *Handler) HandleListSwaps(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := database.ListFilter{
		Status: models.SwapStatus(strings.ToUpper(query.Get("status"))),
		Limit:  defaultListLimit,
	}

	// Parse pagination parameters (optional)
	if limitStr := query.Get("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 {
			filter.Limit = parsedLimit
		}
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	if offsetStr := query.Get("offset"); offsetStr != "" {
		if parsedOffset, err := strconv.Atoi(offsetStr); err == nil && parsedOffset >= 0 {
			filter.Offset = parsedOffset
		}
	}

	swaps, err := h.swaps.ListSwaps(r.Context(), filter)
	if err != nil {
		respondServiceError(w, "Failed to list swaps", err)
		return
	}
	if swaps == nil {
		swaps = []models.Swap{}
	}
	respondJSON(w, http.StatusOK, ListSwapsResponse{Swaps: swaps})
}

// HandleListEvents handles GET /api/v1/swaps/{swapId}/events
func (h *Handler) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	swapID := mux.Vars(r)["swapId"]

	events, err := h.swaps.ListEvents(r.Context(), swapID)
	if err != nil {
		respondServiceError(w, "Failed to list events", err)
		return
	}
	if events == nil {
		events = []models.SwapEvent{}
	}
	respondJSON(w, http.StatusOK, ListEventsResponse{SwapID: swapID, Events: events})
}

// HandleRevealSecret handles POST /api/v1/swaps/{swapId}/reveal
func (h *Handler) HandleRevealSecret(w http.ResponseWriter, r *http.Request) {
	swapID := mux.Vars(r)["swapId"]

	if err := h.swaps.RevealSecret(r.Context(), swapID); err != nil {
		h.logger.Warn("Failed to reveal secret", zap.String("swap_id", swapID), zap.Error(err))
		respondServiceError(w, "Failed to reveal secret", err)
		return
	}
	respondJSON(w, http.StatusAccepted, RevealResponse{SwapID: swapID, Status: "reveal_requested"})
}

// ==================== Fee Calculation ====================

// HandleCalculateFee handles POST /api/v1/fees/calculate
func (h *Handler) HandleCalculateFee(w http.ResponseWriter, r *http.Request) {
	var req CalculateFeeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("Failed to decode request", zap.Error(err))
		respondError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if req.FromAsset == "" || req.ToAsset == "" {
		respondError(w, http.StatusBadRequest, "from_asset and to_asset are required", nil)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	feeCalc, err := h.swaps.CalculateFee(req.FromAsset, req.ToAsset, amount)
	if err != nil {
		respondServiceError(w, "Failed to calculate fee", err)
		return
	}

	respondJSON(w, http.StatusOK, CalculateFeeResponse{
		FeeAmount:   feeCalc.FeeAmount.String(),
		FeeDenom:    feeCalc.FeeDenom,
		FeeChainID:  feeCalc.FeeChainID,
		ChargedLeg:  feeCalc.ChargedLeg,
		TotalSource: feeCalc.TotalSource.String(),
	})
}

// HandleGetQuote handles GET /api/v1/quote?from=&to=&amount=
// The amount is in human units ("1.5").
func (h *Handler) HandleGetQuote(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	from, to := query.Get("from"), query.Get("to")
	if from == "" || to == "" {
		respondError(w, http.StatusBadRequest, "from and to are required", nil)
		return
	}
	amount, err := decimal.NewFromString(query.Get("amount"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	quote, err := h.swaps.GetQuote(r.Context(), from, to, amount)
	if err != nil {
		respondServiceError(w, "Failed to get quote", err)
		return
	}
	respondJSON(w, http.StatusOK, quote)
}

// ==================== Helper Functions ====================

func parseAmount(s string) (*big.Int, error) {
	if s == "" {
		return nil, errors.New("amount is required")
	}
	amount, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok {
		return nil, fmt.Errorf("%q is not an integer", s)
	}
	return amount, nil
}

// maxDurationSeconds is the largest second count a time.Duration holds
const maxDurationSeconds = math.MaxInt64 / int64(time.Second)

// parseDuration accepts a Go duration ("90m") or a number of seconds
func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, errors.New("timelock_duration is required")
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	seconds, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%q is not a duration", s)
	}
	if seconds > maxDurationSeconds || seconds < -maxDurationSeconds {
		return 0, fmt.Errorf("%q is out of range", s)
	}
	return time.Duration(seconds) * time.Second, nil
}

// statusForError maps swap error kinds onto HTTP statuses
func statusForError(err error) int {
	var e *swaperr.Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case swaperr.KindInvalidParameters:
		return http.StatusBadRequest
	case swaperr.KindNotFound:
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Log error but can't send response since headers already written
		fmt.Printf("Failed to encode JSON response: %v\n", err)
	}
}

// respondError sends an error response
func respondError(w http.ResponseWriter, statusCode int, message string, err error) {
	errorMsg := message
	if err != nil {
		errorMsg = fmt.Sprintf("%s: %v", message, err)
	}

	response := ErrorResponse{
		Error:   message,
		Message: errorMsg,
	}

	respondJSON(w, statusCode, response)
}

// respondServiceError sends an error response carrying the error's kind and code
func respondServiceError(w http.ResponseWriter, message string, err error) {
	response := ErrorResponse{
		Error:   message,
		Message: fmt.Sprintf("%s: %v", message, err),
	}
	var e *swaperr.Error
	if errors.As(err, &e) {
		response.Kind = string(e.Kind)
		response.Code = e.Code
	}
	respondJSON(w, statusForError(err), response)
}
