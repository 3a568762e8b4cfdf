package engine

import (
	"context"
	"math/big"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	apperrors "github.com/chainsafe/elements-duel/pkg/app/errors"
	apphttp "github.com/chainsafe/elements-duel/pkg/app/http"
	"github.com/chainsafe/elements-duel/pkg/ethereum"
	"github.com/chainsafe/elements-duel/pkg/game"
)

// displayPlaces is the precision of formatted amounts in responses
const displayPlaces = 4

// HTTP exposes the engine operations
type HTTP struct {
	service  Service
	decimals int32
	validate *validator.Validate
	logger   *zap.Logger
}

type createGameBody struct {
	Bet      string    `json:"bet" validate:"required"`
	Move     game.Move `json:"move" validate:"required"`
	Secret   string    `json:"secret"`
	Referrer game.Slot `json:"referrer"`
}

type joinGameBody struct {
	Move game.Move `json:"move" validate:"required"`
	Bet  string    `json:"bet"`
}

type revealBody struct {
	Move   game.Move `json:"move"`
	Secret string    `json:"secret"`
}

type amountResponse struct {
	Raw       string `json:"raw"`
	Formatted string `json:"formatted"`
}

// RegisterRoutes registers the game endpoints on the given chi router.
// decimals is the precision used to parse and format native amounts.
func RegisterRoutes(r chi.Router, service Service, decimals int32, logger *zap.Logger) {
	h := &HTTP{
		service:  service,
		decimals: decimals,
		validate: validator.New(),
		logger:   logger,
	}

	r.Route("/games", func(r chi.Router) {
		r.Get("/", apphttp.HandleError(h.listGames))
		r.Post("/", apphttp.HandleError(h.createGame))
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", apphttp.HandleError(h.getGame))
			r.Post("/join", apphttp.HandleError(h.joinGame))
			r.Post("/reveal", apphttp.HandleError(h.reveal))
			r.Post("/auto-reveal", apphttp.HandleError(h.autoReveal))
			r.Post("/cancel", apphttp.HandleError(h.cancel))
			r.Post("/claim-timeout", apphttp.HandleError(h.claimTimeout))
		})
	})
	r.Get("/players/{address}/stats", apphttp.HandleError(h.playerStats))
	r.Get("/leaderboard", apphttp.HandleError(h.leaderboard))
	r.Get("/reward-pool", apphttp.HandleError(h.rewardPool))
	r.Post("/refresh", apphttp.HandleError(h.refresh))
}

func (h *HTTP) listGames(w http.ResponseWriter, r *http.Request) error {
	q := r.URL.Query()

	mode, err := game.ParseSortMode(q.Get("sort"))
	if err != nil {
		return apperrors.BadRequestError(err, err.Error())
	}

	var filter game.Filter
	if s := q.Get("status"); s != "" {
		status, err := game.ParseStatus(s)
		if err != nil {
			return apperrors.BadRequestError(err, err.Error())
		}
		filter.Status = &status
	}
	if p := q.Get("player"); p != "" {
		if !common.IsHexAddress(p) {
			return apperrors.BadRequestError(nil, "invalid player address")
		}
		addr := common.HexToAddress(p)
		filter.Player = &addr
	}

	apphttp.WriteJSON(w, http.StatusOK, h.service.Games(filter, mode))
	return nil
}

func (h *HTTP) getGame(w http.ResponseWriter, r *http.Request) error {
	id, err := gameID(r)
	if err != nil {
		return err
	}
	rec, err := h.service.Game(r.Context(), id)
	if err != nil {
		return ToServiceError(err)
	}
	apphttp.WriteJSON(w, http.StatusOK, rec)
	return nil
}

func (h *HTTP) createGame(w http.ResponseWriter, r *http.Request) error {
	var body createGameBody
	if err := h.decode(r, &body); err != nil {
		return err
	}
	bet, err := h.amount(body.Bet)
	if err != nil {
		return err
	}

	res, err := h.service.CreateGame(r.Context(), &CreateGameRequest{
		Bet:      bet,
		Move:     body.Move,
		Secret:   body.Secret,
		Referrer: body.Referrer,
	})
	if err != nil {
		if res != nil {
			// submitted, but the secret could not be stored; hand it back
			h.logger.Error("Game submitted without stored secret",
				zap.Uint64("game_id", res.GameID),
				zap.String("tx_hash", res.TxHash.Hex()),
				zap.Error(err))
			apphttp.WriteJSON(w, http.StatusAccepted, res)
			return nil
		}
		return ToServiceError(err)
	}
	apphttp.WriteJSON(w, http.StatusCreated, res)
	return nil
}

func (h *HTTP) joinGame(w http.ResponseWriter, r *http.Request) error {
	id, err := gameID(r)
	if err != nil {
		return err
	}
	var body joinGameBody
	if err := h.decode(r, &body); err != nil {
		return err
	}

	req := &JoinGameRequest{ID: id, Move: body.Move}
	if body.Bet != "" {
		if req.Bet, err = h.amount(body.Bet); err != nil {
			return err
		}
	}
	res, err := h.service.JoinGame(r.Context(), req)
	if err != nil {
		return ToServiceError(err)
	}
	apphttp.WriteJSON(w, http.StatusOK, res)
	return nil
}

func (h *HTTP) reveal(w http.ResponseWriter, r *http.Request) error {
	id, err := gameID(r)
	if err != nil {
		return err
	}
	var body revealBody
	if err := h.decode(r, &body); err != nil {
		return err
	}

	res, err := h.service.RevealMove(r.Context(), &RevealRequest{ID: id, Move: body.Move, Secret: body.Secret})
	if err != nil {
		return ToServiceError(err)
	}
	apphttp.WriteJSON(w, http.StatusOK, res)
	return nil
}

func (h *HTTP) autoReveal(w http.ResponseWriter, r *http.Request) error {
	id, err := gameID(r)
	if err != nil {
		return err
	}
	attempted, err := h.service.AutoRevealMove(r.Context(), id)
	if err != nil {
		return ToServiceError(err)
	}
	apphttp.WriteJSON(w, http.StatusOK, map[string]bool{"attempted": attempted})
	return nil
}

func (h *HTTP) cancel(w http.ResponseWriter, r *http.Request) error {
	return h.write(w, r, h.service.CancelGame)
}

func (h *HTTP) claimTimeout(w http.ResponseWriter, r *http.Request) error {
	return h.write(w, r, h.service.ClaimTimeout)
}

func (h *HTTP) playerStats(w http.ResponseWriter, r *http.Request) error {
	addr := chi.URLParam(r, "address")
	if !common.IsHexAddress(addr) {
		return apperrors.BadRequestError(nil, "invalid player address")
	}
	stats, err := h.service.FetchPlayerStats(r.Context(), common.HexToAddress(addr))
	if err != nil {
		return ToServiceError(err)
	}
	apphttp.WriteJSON(w, http.StatusOK, stats)
	return nil
}

func (h *HTTP) leaderboard(w http.ResponseWriter, r *http.Request) error {
	entries, err := h.service.Leaderboard(r.Context())
	if err != nil {
		return ToServiceError(err)
	}
	if entries == nil {
		entries = []game.LeaderboardEntry{}
	}
	apphttp.WriteJSON(w, http.StatusOK, entries)
	return nil
}

func (h *HTTP) rewardPool(w http.ResponseWriter, r *http.Request) error {
	balance, err := h.service.RewardPool(r.Context())
	if err != nil {
		return ToServiceError(err)
	}
	apphttp.WriteJSON(w, http.StatusOK, &amountResponse{
		Raw:       balance.String(),
		Formatted: ethereum.FormatUnits(balance, h.decimals, displayPlaces),
	})
	return nil
}

func (h *HTTP) refresh(w http.ResponseWriter, r *http.Request) error {
	if err := h.service.RefreshData(r.Context()); err != nil {
		return ToServiceError(err)
	}
	apphttp.WriteJSON(w, http.StatusOK, h.service.Snapshot())
	return nil
}

// write runs a single-id write operation
func (h *HTTP) write(w http.ResponseWriter, r *http.Request, op func(context.Context, uint64) (*TxResult, error)) error {
	id, err := gameID(r)
	if err != nil {
		return err
	}
	res, err := op(r.Context(), id)
	if err != nil {
		return ToServiceError(err)
	}
	apphttp.WriteJSON(w, http.StatusOK, res)
	return nil
}

func (h *HTTP) decode(r *http.Request, v any) error {
	if err := apphttp.DecodeJSON(r, v); err != nil {
		return err
	}
	if err := h.validate.Struct(v); err != nil {
		return apperrors.BadRequestError(err, "invalid request: "+err.Error())
	}
	return nil
}

func (h *HTTP) amount(s string) (*big.Int, error) {
	v, err := ethereum.ParseUnits(s, h.decimals)
	if err != nil {
		return nil, apperrors.BadRequestError(err, err.Error())
	}
	return v, nil
}

func gameID(r *http.Request) (uint64, error) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return 0, apperrors.BadRequestError(err, "invalid game id")
	}
	return id, nil
}
