// Package api exposes a read-only HTTP view of the engine: candle history,
// tracked positions and the event feed. It never mutates engine state; order
// entry stays with the decision loop.
package api

import (
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"futures-engine/internal/candle"
	"futures-engine/internal/core"
	"futures-engine/internal/feed"
	"futures-engine/internal/position"
	"futures-engine/internal/quote"
)

type Server struct {
	aggregator *candle.Aggregator
	book       *position.Book
	feed       *feed.Feed
	quotes     *quote.Cache
	startedAt  time.Time
}

func NewServer(aggregator *candle.Aggregator, book *position.Book, fd *feed.Feed, quotes *quote.Cache) *Server {
	return &Server{
		aggregator: aggregator,
		book:       book,
		feed:       fd,
		quotes:     quotes,
		startedAt:  time.Now().UTC(),
	}
}

// Router builds the gin engine. Recovery only; request logging would drown
// the structured engine log.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", s.health)
	r.GET("/candles/:symbol", s.candles)
	r.GET("/quotes/:symbol", s.quoteBySymbol)
	r.GET("/positions", s.positions)
	r.GET("/feed", s.feedEntries)
	return r
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"uptime_sec": int64(time.Since(s.startedAt).Seconds()),
	})
}

type candleView struct {
	Start  time.Time `json:"start"`
	Open   string    `json:"open"`
	High   string    `json:"high"`
	Low    string    `json:"low"`
	Close  string    `json:"close"`
	Volume string    `json:"volume"`
}

func (s *Server) candles(c *gin.Context) {
	symbol := c.Param("symbol")
	snapshot := s.aggregator.Snapshot(symbol)
	if len(snapshot) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no candles for symbol"})
		return
	}
	out := make([]candleView, len(snapshot))
	for i, cd := range snapshot {
		out[i] = toCandleView(cd)
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "candles": out})
}

func toCandleView(cd core.Candle) candleView {
	return candleView{
		Start:  cd.Start,
		Open:   cd.Open.String(),
		High:   cd.High.String(),
		Low:    cd.Low.String(),
		Close:  cd.Close.String(),
		Volume: cd.Volume.String(),
	}
}

func (s *Server) quoteBySymbol(c *gin.Context) {
	symbol := c.Param("symbol")
	q, ok := s.quotes.Best(symbol)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no quote for symbol"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"symbol":     q.Symbol,
		"bid":        q.Bid.String(),
		"ask":        q.Ask.String(),
		"updated_at": q.UpdatedAt,
	})
}

type positionView struct {
	ID         string    `json:"id"`
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side"`
	Qty        string    `json:"qty"`
	EntryPrice string    `json:"entry_price,omitempty"`
	Status     string    `json:"status"`
	UnrealPnL  string    `json:"unreal_pnl"`
	OpenedAt   time.Time `json:"opened_at"`
}

func (s *Server) positions(c *gin.Context) {
	all := s.book.All()
	sort.Slice(all, func(i, j int) bool { return all[i].OpenedAt.Before(all[j].OpenedAt) })
	out := make([]positionView, 0, len(all))
	for _, p := range all {
		view := positionView{
			ID:        p.ID,
			Symbol:    p.Symbol,
			Side:      string(p.Side),
			Qty:       p.Qty.String(),
			Status:    string(p.Status),
			UnrealPnL: p.UnrealPnL.String(),
			OpenedAt:  p.OpenedAt,
		}
		if p.EntryPrice != nil {
			view.EntryPrice = p.EntryPrice.String()
		}
		out = append(out, view)
	}
	c.JSON(http.StatusOK, gin.H{"positions": out})
}

func (s *Server) feedEntries(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"entries": s.feed.Entries()})
}
