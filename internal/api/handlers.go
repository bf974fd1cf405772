package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/user/dealtracker/internal/apperror"
	"github.com/user/dealtracker/internal/catalog"
	"github.com/user/dealtracker/internal/scheduler"
	"github.com/user/dealtracker/internal/storage"
)

// query reads typed query parameters, keeping the first parse error.
type query struct {
	r   *http.Request
	err error
}

func (q *query) str(key string) string {
	return strings.TrimSpace(q.r.URL.Query().Get(key))
}

func (q *query) integer(key string, def int) int {
	v := q.str(key)
	if v == "" || q.err != nil {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		q.err = apperror.Invalid(key, key+" must be a non-negative integer")
		return def
	}
	return n
}

func (q *query) number(key string) *float64 {
	v := q.str(key)
	if v == "" || q.err != nil {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		q.err = apperror.Invalid(key, key+" must be a non-negative number")
		return nil
	}
	return &f
}

func (h *Handler) regionOf(q *query) string {
	if r := q.str("region"); r != "" {
		return strings.ToUpper(r)
	}
	return h.region
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperror.Invalid("id", "id must be a positive integer")
	}
	return id, nil
}

func (h *Handler) listDeals(w http.ResponseWriter, r *http.Request) {
	q := &query{r: r}
	f := storage.DealFilter{
		Region: h.regionOf(q),
		GameID: int64(q.integer("game", 0)),
		Sort:   storage.DealSort(q.str("sort")),
		Limit:  q.integer("limit", 20),
	}
	if discount := q.number("min_discount"); discount != nil {
		f.MinDiscount = *discount
	}
	f.MaxPrice = q.number("max_price")
	if q.err != nil {
		writeError(w, q.err)
		return
	}

	switch f.Sort {
	case "", storage.SortSavings, storage.SortPrice, storage.SortRecent:
	default:
		writeError(w, apperror.Invalid("sort", "sort must be savings, price or recent"))
		return
	}

	if slug := q.str("store"); slug != "" {
		store, err := h.repo.FindStoreBySlug(r.Context(), slug)
		if err != nil {
			writeError(w, err)
			return
		}
		if store == nil {
			writeError(w, apperror.NotFound("store", slug))
			return
		}
		f.StoreID = store.ID
	}

	deals, err := h.repo.ListDeals(r.Context(), f)
	h.respond(w, deals, err)
}

func (h *Handler) hotDeals(w http.ResponseWriter, r *http.Request) {
	q := &query{r: r}
	region, limit := h.regionOf(q), q.integer("limit", 20)
	if q.err != nil {
		writeError(w, q.err)
		return
	}
	deals, err := h.repo.HotDeals(r.Context(), region, limit)
	h.respond(w, deals, err)
}

func (h *Handler) recentDeals(w http.ResponseWriter, r *http.Request) {
	q := &query{r: r}
	region, hours, limit := h.regionOf(q), q.integer("hours", 24), q.integer("limit", 20)
	if q.err != nil {
		writeError(w, q.err)
		return
	}
	deals, err := h.repo.RecentDeals(r.Context(), region, hours, limit)
	h.respond(w, deals, err)
}

func (h *Handler) freeGames(w http.ResponseWriter, r *http.Request) {
	q := &query{r: r}
	region, limit := h.regionOf(q), q.integer("limit", 20)
	if q.err != nil {
		writeError(w, q.err)
		return
	}
	deals, err := h.repo.FreeGames(r.Context(), region, limit)
	h.respond(w, deals, err)
}

func (h *Handler) endingSoon(w http.ResponseWriter, r *http.Request) {
	q := &query{r: r}
	region, hours, limit := h.regionOf(q), q.integer("hours", 48), q.integer("limit", 20)
	if q.err != nil {
		writeError(w, q.err)
		return
	}
	deals, err := h.repo.EndingSoon(r.Context(), region, hours, limit)
	h.respond(w, deals, err)
}

func (h *Handler) weeklyBest(w http.ResponseWriter, r *http.Request) {
	q := &query{r: r}
	limit := q.integer("limit", 10)
	if q.err != nil {
		writeError(w, q.err)
		return
	}
	deals, err := h.repo.WeeklyBest(r.Context(), limit)
	h.respond(w, deals, err)
}

func (h *Handler) dealStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.repo.GetDealStats(r.Context(), h.regionOf(&query{r: r}))
	h.respond(w, stats, err)
}

func (h *Handler) listStores(w http.ResponseWriter, r *http.Request) {
	stores, err := h.repo.ListStores(r.Context())
	h.respond(w, stores, err)
}

func (h *Handler) searchGames(w http.ResponseWriter, r *http.Request) {
	q := &query{r: r}
	s := storage.GameSearch{
		Query:     q.str("q"),
		Genre:     q.str("genre"),
		MinRating: q.integer("min_rating", 0),
		MaxPrice:  q.number("max_price"),
		Limit:     q.integer("limit", 20),
	}
	if q.err != nil {
		writeError(w, q.err)
		return
	}
	games, err := h.repo.SearchGames(r.Context(), s)
	h.respond(w, games, err)
}

// GameDetail is a game with its store snapshots and best current deal.
type GameDetail struct {
	storage.Game
	ExternalIDs map[string]string   `json:"external_ids"`
	Stores      []storage.GameStore `json:"stores"`
	BestDeal    *storage.BestDeal   `json:"best_deal,omitempty"`
}

func (h *Handler) getGame(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	ctx := r.Context()

	game, err := h.repo.GetGame(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}
	detail := GameDetail{Game: *game}
	if detail.ExternalIDs, err = h.repo.ExternalIDs(ctx, id); err != nil {
		writeError(w, err)
		return
	}
	if detail.Stores, err = h.repo.GetGameStores(ctx, id); err != nil {
		writeError(w, err)
		return
	}
	if detail.BestDeal, err = h.repo.BestOnSaleDeal(ctx, id, h.regionOf(&query{r: r})); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h *Handler) priceHistory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	q := &query{r: r}
	region, days, storeID := h.regionOf(q), q.integer("days", 30), q.integer("store", 0)
	if q.err != nil {
		writeError(w, q.err)
		return
	}
	if _, err := h.repo.GetGame(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	history, err := h.repo.GetPriceHistory(r.Context(), id, region, days, int64(storeID))
	h.respond(w, history, err)
}

func (h *Handler) lowestPrice(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	q := &query{r: r}
	region, days := h.regionOf(q), q.integer("days", 90)
	if q.err != nil {
		writeError(w, q.err)
		return
	}
	lowest, err := h.repo.LowestPrice(r.Context(), id, region, days)
	if err != nil {
		writeError(w, err)
		return
	}
	if lowest == nil {
		writeError(w, apperror.NotFound("price history of game", id))
		return
	}
	writeJSON(w, http.StatusOK, lowest)
}

func (h *Handler) similarGames(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	q := &query{r: r}
	limit := q.integer("limit", 5)
	if q.err != nil {
		writeError(w, q.err)
		return
	}

	game, err := h.repo.GetGame(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	candidates, err := h.repo.ListGames(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	matches := h.policy.Similar(*game, candidates, limit)
	if matches == nil {
		matches = []catalog.Match{}
	}
	writeJSON(w, http.StatusOK, matches)
}

func (h *Handler) wishlistDeals(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	user, err := h.repo.GetUser(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	region := strings.ToUpper((&query{r: r}).str("region"))
	if region == "" {
		region = user.PreferredRegion
	}
	if region == "" {
		region = h.region
	}
	deals, err := h.repo.WishlistDeals(r.Context(), id, region)
	h.respond(w, deals, err)
}

func (h *Handler) schedulerStatus(w http.ResponseWriter, r *http.Request) {
	if h.jobs == nil {
		writeJSON(w, http.StatusOK, []scheduler.JobStatus{})
		return
	}
	writeJSON(w, http.StatusOK, h.jobs.Status())
}

// respond writes data, or err when set.
func (h *Handler) respond(w http.ResponseWriter, data interface{}, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}
