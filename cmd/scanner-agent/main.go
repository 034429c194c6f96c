package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"ms-gatepass/internal/config"
	"ms-gatepass/internal/logger"
	"ms-gatepass/internal/models"
	"ms-gatepass/internal/offline"
	"ms-gatepass/internal/utils"
)

// The scanner agent runs next to the gate hardware. Every scan is
// written to the local sqlite queue first; the reconciler pushes queued
// intents to the gate server whenever the link is up. A scan is never
// lost to a connectivity gap.
func main() {
	logger := logger.NewLogger("scanner-agent")
	defer logger.Close()

	logger.Info("APP", "Starting scanner agent initialization")

	if err := godotenv.Load(); err != nil {
		logger.Warn("CONFIG", ".env file not found, using environment variables")
	}

	cfg := config.Load()

	queue, err := offline.OpenQueue(cfg.Scanner.QueuePath)
	if err != nil {
		logger.Fatal("QUEUE", fmt.Sprintf("Failed to open offline queue: %v", err))
	}
	defer queue.Close()
	queue.MaxRetry = cfg.Scanner.MaxRetries
	logger.Info("QUEUE", fmt.Sprintf("Offline queue ready at %s", cfg.Scanner.QueuePath))

	monitor := offline.NewMonitor(
		cfg.Scanner.ServerURL+"/health",
		cfg.Scanner.ProbeInterval,
		cfg.Scanner.ProbeTimeout,
		logger,
	)

	submitter := &offline.HTTPSubmitter{
		BaseURL: cfg.Scanner.ServerURL,
		Client:  &http.Client{Timeout: 10 * time.Second},
		Token:   os.Getenv("SCANNER_OPERATOR_TOKEN"),
	}

	reconciler := offline.NewReconciler(queue, submitter, monitor, logger, offline.RetryPolicy{
		Backoff: cfg.Scanner.RetryBackoff,
	})
	reconciler.Retention = cfg.Scanner.Retention
	reconciler.PruneInterval = cfg.Scanner.PruneInterval

	// a recovered link immediately drains whatever piled up offline
	monitor.OnChange = func(online bool) {
		if online {
			reconciler.Kick()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	monitor.Start(ctx)
	go reconciler.Run(ctx)
	logger.Info("SYNC", "Connectivity monitor and reconciler started")

	r := chi.NewRouter()

	r.Post("/scan", func(w http.ResponseWriter, req *http.Request) {
		var scanReq models.ScanRequest
		if err := json.NewDecoder(req.Body).Decode(&scanReq); err != nil {
			http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
		if err := scanReq.Validate(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		intent := models.ScanIntent{
			ID:           uuid.New().String(),
			TicketNumber: scanReq.TicketNumber,
			Action:       scanReq.Action,
			EntryType:    scanReq.EntryType,
			OperatorID:   scanReq.OperatorID,
			ScannedAt:    time.Now(),
		}

		// queue first, always; submission is the reconciler's problem
		if err := queue.Enqueue(req.Context(), intent); err != nil {
			logger.Error("QUEUE", fmt.Sprintf("Failed to enqueue scan: %v", err))
			utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("failed to record scan", err.Error()))
			return
		}
		logger.LogScan(string(scanReq.Action), scanReq.TicketNumber, "queued as "+intent.ID)
		reconciler.Kick()

		utils.WriteJSON(w, http.StatusAccepted, utils.SuccessResponse("scan queued", map[string]string{
			"intent_id": intent.ID,
		}))
	})

	r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		counts, err := queue.Counts(req.Context())
		if err != nil {
			utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("failed to read queue", err.Error()))
			return
		}
		utils.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"online": monitor.Online(),
			"queue":  counts,
		})
	})

	r.Get("/failed", func(w http.ResponseWriter, req *http.Request) {
		failed, err := queue.ListFailed(req.Context())
		if err != nil {
			utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("failed to read queue", err.Error()))
			return
		}
		utils.WriteJSON(w, http.StatusOK, failed)
	})

	r.Post("/sync", func(w http.ResponseWriter, req *http.Request) {
		monitor.Kick()
		reconciler.Kick()
		utils.WriteJSON(w, http.StatusAccepted, utils.SuccessResponse("sync triggered", nil))
	})

	server := &http.Server{
		Addr:    cfg.Scanner.Port,
		Handler: r,
	}

	go func() {
		logger.Info("HTTP", fmt.Sprintf("🚀 Scanner agent running on %s", cfg.Scanner.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	logger.Info("APP", "Agent started successfully, waiting for shutdown signal")
	<-stop

	logger.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(ctxShutdown); err != nil {
		logger.Error("HTTP", fmt.Sprintf("Server Shutdown Failed: %v", err))
	} else {
		logger.Info("HTTP", "✅ Scanner agent shutdown complete")
	}
}
