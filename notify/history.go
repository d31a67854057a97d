package notify

import (
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"genlock/video"
)

const (
	RunRecording = "recording"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// CaptureRun is the stored record of one capture session.
type CaptureRun struct {
	gorm.Model

	RunID     string `gorm:"uniqueIndex;size:36"`
	CaptureID string `gorm:"index"`
	State     string

	StartedAt time.Time
	StoppedAt *time.Time

	Ticks       uint64
	Written     uint64
	Discarded   uint64
	Dropped     uint64
	Duplicated  uint64
	Flushes     int
	AudioFrames uint64

	Error string
}

// History records capture sessions in a SQL database. It is a video.Listener;
// failures to write are logged and never reach the capture.
type History struct {
	db  *gorm.DB
	run string

	l sync.Mutex
}

// Open connects to the MySQL database at dsn.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}
	return db, nil
}

func NewHistory(db *gorm.DB) (*History, error) {
	if err := db.AutoMigrate(&CaptureRun{}); err != nil {
		return nil, err
	}
	return &History{db: db}, nil
}

// Runs returns the most recent runs, newest first.
func (h *History) Runs(limit int) ([]CaptureRun, error) {
	var runs []CaptureRun
	err := h.db.Order("id desc").Limit(limit).Find(&runs).Error
	return runs, err
}

// Run returns the run with the given identifier.
func (h *History) Run(runID string) (*CaptureRun, error) {
	r := &CaptureRun{}
	if err := h.db.Where("run_id = ?", runID).First(r).Error; err != nil {
		return nil, err
	}
	return r, nil
}

func (h *History) CaptureStarted(s video.Stats) {
	h.l.Lock()
	h.run = s.RunID
	h.l.Unlock()

	r := &CaptureRun{
		RunID:     s.RunID,
		CaptureID: s.CaptureID,
		State:     RunRecording,
		StartedAt: s.Started,
	}
	if err := h.db.Create(r).Error; err != nil {
		log.Errorf("Failed to record capture run %v: %v", s.RunID, err)
	}
}

func (h *History) TickCompleted(tick, total uint64) {}

func (h *History) CaptureStopped(s video.Stats) {
	h.l.Lock()
	h.run = ""
	h.l.Unlock()

	now := time.Now()
	err := h.db.Model(&CaptureRun{}).Where("run_id = ?", s.RunID).Updates(map[string]interface{}{
		"state":        RunCompleted,
		"stopped_at":   &now,
		"ticks":        s.Ticks,
		"written":      s.Written,
		"discarded":    s.Discarded,
		"dropped":      s.Dropped,
		"duplicated":   s.Duplicated,
		"flushes":      s.Flushes,
		"audio_frames": s.AudioFrames,
	}).Error
	if err != nil {
		log.Errorf("Failed to update capture run %v: %v", s.RunID, err)
	}
}

func (h *History) FatalError(cause error) {
	h.l.Lock()
	run := h.run
	h.run = ""
	h.l.Unlock()
	if run == "" {
		return
	}

	now := time.Now()
	err := h.db.Model(&CaptureRun{}).Where("run_id = ?", run).Updates(map[string]interface{}{
		"state":      RunFailed,
		"stopped_at": &now,
		"error":      cause.Error(),
	}).Error
	if err != nil {
		log.Errorf("Failed to update capture run %v: %v", run, err)
	}
}
