package server

import (
	"context"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/jittakal/kafbag/internal/errors"
	"github.com/jittakal/kafbag/pkg/bag"
)

// Controller is the recording surface exposed over HTTP.
type Controller interface {
	IsOpen() bool
	Metadata() bag.BagMetadata
	TakeSnapshot(ctx context.Context) error
	SplitBagfile(ctx context.Context) error
}

// StatsProvider is implemented by controllers that also report record counters.
type StatsProvider interface {
	Stats() any
}

// ControlResponse is returned by the snapshot and split endpoints.
type ControlResponse struct {
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
}

// StatusResponse describes the bag being recorded.
type StatusResponse struct {
	Open              bool              `json:"open"`
	StorageIdentifier string            `json:"storage_identifier,omitempty"`
	BagSize           uint64            `json:"bag_size"`
	BagSizeHuman      string            `json:"bag_size_human"`
	MessageCount      uint64            `json:"message_count"`
	StartingTime      string            `json:"starting_time,omitempty"`
	Duration          string            `json:"duration"`
	CompressionFormat string            `json:"compression_format,omitempty"`
	CompressionMode   string            `json:"compression_mode,omitempty"`
	Files             []FileStatus      `json:"files"`
	Topics            []TopicStatus     `json:"topics"`
	CustomData        map[string]string `json:"custom_data,omitempty"`
	Recorder          any               `json:"recorder,omitempty"`
}

// FileStatus describes one closed bagfile.
type FileStatus struct {
	Path         string `json:"path"`
	MessageCount uint64 `json:"message_count"`
	Duration     string `json:"duration"`
}

// TopicStatus describes one recorded topic.
type TopicStatus struct {
	Name                string `json:"name"`
	Type                string `json:"type"`
	SerializationFormat string `json:"serialization_format"`
	MessageCount        uint64 `json:"message_count"`
}

// RegisterControlHandlers mounts the control endpoints below prefix.
func RegisterControlHandlers(mux *http.ServeMux, prefix string, controller Controller, logger *zap.Logger) {
	mux.HandleFunc("POST "+prefix+"/snapshot", actionHandler("snapshot", controller.TakeSnapshot, logger))
	mux.HandleFunc("POST "+prefix+"/split", actionHandler("split", controller.SplitBagfile, logger))
	mux.HandleFunc("GET "+prefix+"/status", StatusHandler(controller, logger))
}

func actionHandler(name string, action func(context.Context) error, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := ControlResponse{
			Status:    "ok",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}

		err := action(r.Context())
		if err == nil {
			logger.Info("control action completed", zap.String("action", name))
			writeJSON(w, http.StatusOK, response, logger)
			return
		}

		statusCode := http.StatusInternalServerError
		switch {
		case stderrors.Is(err, errors.ErrNotSnapshotMode):
			statusCode = http.StatusConflict
		case stderrors.Is(err, errors.ErrWriterNotOpen):
			statusCode = http.StatusServiceUnavailable
		}
		logger.Warn("control action failed", zap.String("action", name), zap.Error(err))

		response.Status = "failed"
		response.Error = err.Error()
		writeJSON(w, statusCode, response, logger)
	}
}

// StatusHandler reports the metadata of the bag being recorded.
func StatusHandler(controller Controller, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, newStatusResponse(controller), logger)
	}
}

func newStatusResponse(controller Controller) StatusResponse {
	md := controller.Metadata()
	resp := StatusResponse{
		Open:              controller.IsOpen(),
		StorageIdentifier: md.StorageIdentifier,
		BagSize:           md.BagSize,
		BagSizeHuman:      humanize.IBytes(md.BagSize),
		MessageCount:      md.MessageCount,
		Duration:          md.Duration.String(),
		CompressionFormat: md.CompressionFormat,
		CompressionMode:   md.CompressionMode,
		Files:             make([]FileStatus, 0, len(md.Files)),
		Topics:            make([]TopicStatus, 0, len(md.TopicsWithMessageCount)),
		CustomData:        md.CustomData,
	}
	if !md.StartingTime.IsZero() {
		resp.StartingTime = md.StartingTime.UTC().Format(time.RFC3339Nano)
	}
	for _, f := range md.Files {
		resp.Files = append(resp.Files, FileStatus{
			Path:         f.Path,
			MessageCount: f.MessageCount,
			Duration:     f.Duration.String(),
		})
	}
	for _, t := range md.TopicsWithMessageCount {
		resp.Topics = append(resp.Topics, TopicStatus{
			Name:                t.Topic.Name,
			Type:                t.Topic.Type,
			SerializationFormat: t.Topic.SerializationFormat,
			MessageCount:        t.MessageCount,
		})
	}
	if sp, ok := controller.(StatsProvider); ok {
		resp.Recorder = sp.Stats()
	}
	return resp
}
