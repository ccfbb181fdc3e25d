package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/signalsfoundry/leaf-simulator/internal/logging"
	"github.com/signalsfoundry/leaf-simulator/internal/power"
)

type readingJSON struct {
	Meter   string  `json:"meter"`
	Static  float64 `json:"static"`
	Dynamic float64 `json:"dynamic"`
	Total   float64 `json:"total"`
}

type statusJSON struct {
	Experiment          string        `json:"experiment"`
	RunID               string        `json:"run_id,omitempty"`
	TimeSeconds         float64       `json:"time_seconds"`
	Finished            bool          `json:"finished"`
	ActiveTaxis         int           `json:"active_taxis"`
	RunningApplications int           `json:"running_applications"`
	Meters              []readingJSON `json:"meters"`
}

type sampleJSON struct {
	TimeSeconds float64 `json:"time_seconds"`
	Static      float64 `json:"static"`
	Dynamic     float64 `json:"dynamic"`
}

type taxiJSON struct {
	TimeSeconds float64 `json:"time_seconds"`
	Taxis       int     `json:"taxis"`
}

// NewHandler returns the status API. metrics, when non-nil, is mounted at
// /metrics.
func NewHandler(store *Store, metrics http.Handler, log logging.Logger) http.Handler {
	gin.SetMode(gin.ReleaseMode)
	log = logging.OrNoop(log)

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(log), cors.Default())

	router.GET("/api/status", func(c *gin.Context) {
		st := store.Status()
		out := statusJSON{
			Experiment:          st.Experiment,
			RunID:               st.RunID,
			TimeSeconds:         st.Time.Seconds(),
			Finished:            st.Finished,
			ActiveTaxis:         st.Taxis,
			RunningApplications: st.RunningApplications,
			Meters:              make([]readingJSON, 0, len(st.Readings)),
		}
		for _, r := range st.Readings {
			out.Meters = append(out.Meters, readingJSON{
				Meter:   r.Meter,
				Static:  r.Static,
				Dynamic: r.Dynamic,
				Total:   r.Total(),
			})
		}
		c.JSON(http.StatusOK, out)
	})

	router.GET("/api/meters", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"meters": store.Meters()})
	})

	router.GET("/api/meters/:name", func(c *gin.Context) {
		name := c.Param("name")
		samples, ok := store.Meter(name)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown meter " + name})
			return
		}
		c.JSON(http.StatusOK, gin.H{"meter": name, "samples": samplesJSON(samples)})
	})

	router.GET("/api/taxis", func(c *gin.Context) {
		history := store.Taxis()
		out := make([]taxiJSON, len(history))
		for i, h := range history {
			out[i] = taxiJSON{TimeSeconds: h.Time.Seconds(), Taxis: h.Taxis}
		}
		c.JSON(http.StatusOK, gin.H{"samples": out})
	})

	if metrics != nil {
		router.GET("/metrics", gin.WrapH(metrics))
	}
	return router
}

func samplesJSON(samples []power.Sample) []sampleJSON {
	out := make([]sampleJSON, len(samples))
	for i, s := range samples {
		out[i] = sampleJSON{TimeSeconds: s.Time.Seconds(), Static: s.Static, Dynamic: s.Dynamic}
	}
	return out
}

func requestLogger(log logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		began := time.Now()
		c.Next()
		log.Debug(c.Request.Context(), "api request",
			logging.String("method", c.Request.Method),
			logging.String("path", c.FullPath()),
			logging.Int("status", c.Writer.Status()),
			logging.Duration("elapsed", time.Since(began)),
		)
	}
}

// Serve starts an HTTP server for h on addr in the background. An empty
// addr disables it and returns nil.
func Serve(addr string, h http.Handler, log logging.Logger) *http.Server {
	if addr == "" || h == nil {
		return nil
	}
	log = logging.OrNoop(log)
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn(context.Background(), "http server exited", logging.String("addr", addr), logging.Err(err))
		}
	}()
	log.Info(context.Background(), "serving http", logging.String("addr", addr))
	return srv
}

// Shutdown stops srv, waiting at most timeout. A nil server is ignored.
func Shutdown(srv *http.Server, timeout time.Duration) error {
	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return srv.Shutdown(ctx)
}
