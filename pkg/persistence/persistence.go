// Package persistence assembles and writes run reports, with pluggable
// serialization so destinations can vary.
package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/andrej220/gsh/pkg/models"
	"github.com/andrej220/gsh/pkg/remote"
)

const (
	indent = "    "
	prefix = ""
)

type Serializer interface {
	Marshal(data any) ([]byte, error)
}

type Writer interface {
	Write(filename string, data []byte) error
}

type JSONSerializer struct {
	Prefix, Indent string
}

func (s JSONSerializer) Marshal(data any) ([]byte, error) {
	return json.MarshalIndent(data, s.Prefix, s.Indent)
}

type FileWriter struct {
	Overwrite bool
}

func (w FileWriter) Write(filename string, data []byte) error {
	if filename == "" {
		return os.ErrInvalid
	}
	if _, err := os.Stat(filename); !os.IsNotExist(err) && !w.Overwrite {
		return os.ErrExist
	}
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0644)
}

// TaskView is the slice of a finished remote task the report needs.
// *remote.Task satisfies it.
type TaskView interface {
	Hostname() string
	Status() remote.Status
	ExitCode() int
	Started() time.Time
	Finished() time.Time
}

// BuildReport assembles the persisted record of a run. Hosts the run left
// behind (a timed-out Wait or a fail-fast abort) are snapshotted as they
// are: a zero duration and the -1 exit code sentinel until their
// subprocess exits.
func BuildReport(runID string, command []string, tasks []TaskView, startedAt, finishedAt time.Time, aggregate int) models.ExecutionReport {
	report := models.ExecutionReport{
		RunID:      runID,
		Command:    command,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
		Aggregate:  aggregate,
		Hosts:      make([]models.HostReport, 0, len(tasks)),
	}
	for _, tsk := range tasks {
		report.Hosts = append(report.Hosts, hostReport(tsk))
	}
	return report
}

func hostReport(tsk TaskView) models.HostReport {
	var durationMS int64
	if !tsk.Started().IsZero() && !tsk.Finished().IsZero() {
		durationMS = tsk.Finished().Sub(tsk.Started()).Milliseconds()
	}
	return models.HostReport{
		Host:       tsk.Hostname(),
		Status:     tsk.Status().String(),
		ExitCode:   tsk.ExitCode(),
		DurationMS: durationMS,
	}
}

// WriteReportTo persists a report using the provided Serializer and Writer.
func WriteReportTo(report models.ExecutionReport, filename string, serializer Serializer, writer Writer) error {
	if filename == "" {
		return fmt.Errorf("invalid filename: %w", os.ErrInvalid)
	}
	data, err := serializer.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if err := writer.Write(filename, data); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// WriteReport persists a report as indented JSON, overwriting filename.
func WriteReport(report models.ExecutionReport, filename string) error {
	serializer := JSONSerializer{Prefix: prefix, Indent: indent}
	writer := FileWriter{Overwrite: true}
	return WriteReportTo(report, filename, serializer, writer)
}
