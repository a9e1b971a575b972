package web

import (
	"time"

	"github.com/gofiber/fiber/v2"
)

// StatusResponse is returned by /api/status.
type StatusResponse struct {
	Running        bool    `json:"running"`
	Source         string  `json:"source"`
	UptimeSeconds  float64 `json:"uptime_seconds"`
	QueueLength    int     `json:"queue_length"`
	Spoken         uint64  `json:"spoken"`
	EventClients   int     `json:"event_clients"`
	PreviewClients int     `json:"preview_clients"`
	Journal        bool    `json:"journal"`
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	st := s.stats.Stats()
	return c.JSON(StatusResponse{
		Running:        st.Running,
		Source:         s.cfg.SourceKind,
		UptimeSeconds:  s.now().Sub(s.startedAt).Round(time.Second).Seconds(),
		QueueLength:    st.QueueLength,
		Spoken:         uint64(st.Speech.Spoken),
		EventClients:   s.events.ClientCount(),
		PreviewClients: s.preview.ClientCount(),
		Journal:        s.journal != nil,
	})
}

func (s *Server) handleStats(c *fiber.Ctx) error {
	return c.JSON(s.stats.Stats())
}

func (s *Server) handleNarrations(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"narrations": s.history.Recent()})
}

func (s *Server) handleJournal(c *fiber.Ctx) error {
	if s.journal == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "journal disabled",
		})
	}

	limit := c.QueryInt("limit", 50)
	if limit < 1 || limit > 500 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "limit must be between 1 and 500",
		})
	}

	entries, err := s.journal.Recent(c.UserContext(), limit)
	if err != nil {
		s.logger.Error("journal query failed", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	counts, err := s.journal.Counts(c.UserContext())
	if err != nil {
		s.logger.Error("journal count failed", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(fiber.Map{
		"entries": entries,
		"counts":  counts,
	})
}
