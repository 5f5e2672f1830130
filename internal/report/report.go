// Package report renders a finished scan as the open ports JSON document and
// a console summary.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/anstrom/portsweep/internal/errors"
	"github.com/anstrom/portsweep/internal/scanning"
)

const indent = "    "

// Encode renders the report as a JSON object keyed by host address. Hosts
// appear in address order, each mapped to its [port, "service"] pairs.
// Failed hosts are not part of the document.
func Encode(r *scanning.Report) ([]byte, error) {
	hosts := r.SortedHosts()
	if len(hosts) == 0 {
		return []byte("{}\n"), nil
	}

	var buf bytes.Buffer
	buf.WriteString("{\n")
	for i, host := range hosts {
		ports := r.Hosts[host].Ports
		if ports == nil {
			ports = []scanning.PortResult{}
		}
		value, err := json.MarshalIndent(ports, indent, indent)
		if err != nil {
			return nil, fmt.Errorf("failed to encode ports of %s: %w", host, err)
		}

		buf.WriteString(indent)
		buf.WriteString(strconv.Quote(host.String()))
		buf.WriteString(": ")
		buf.Write(value)
		if i < len(hosts)-1 {
			buf.WriteByte(',')
		}
		buf.WriteByte('\n')
	}
	buf.WriteString("}\n")
	return buf.Bytes(), nil
}

// WriteJSON encodes the report and writes it to path atomically. It returns
// the absolute path of the written file.
func WriteJSON(path string, r *scanning.Report) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", errors.WrapScanError(errors.CodeOutputWrite, "Failed to resolve output path", err).
			WithOperation("resolve")
	}
	data, err := Encode(r)
	if err != nil {
		return "", errors.WrapScanError(errors.CodeOutputWrite, "Failed to encode report", err).
			WithOperation("encode")
	}
	if err := WriteAtomic(abs, data); err != nil {
		return "", err
	}
	return abs, nil
}

// WriteAtomic writes data through a temp file in the target directory that is
// synced and then renamed over path. An existing file is left untouched on
// failure. Errors name the step that failed in their Operation.
func WriteAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.WrapScanError(errors.CodeDirectoryCreate,
			fmt.Sprintf("Failed to create directory %s", dir), err).WithOperation("mkdir")
	}

	tmp, err := os.CreateTemp(dir, ".portsweep-*.tmp")
	if err != nil {
		return errors.WrapScanError(errors.CodeFilePermission, "Failed to create temp file", err).
			WithOperation("create")
	}
	tmpPath := tmp.Name()

	fail := func(op, msg string, err error) error {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return errors.WrapScanError(errors.CodeOutputWrite, msg, err).WithOperation(op)
	}

	if _, err := tmp.Write(data); err != nil {
		return fail("write", "Failed to write temp file", err)
	}
	if err := tmp.Sync(); err != nil {
		return fail("sync", "Failed to sync temp file", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		return fail("chmod", "Failed to set file mode", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return errors.WrapScanError(errors.CodeOutputWrite, "Failed to close temp file", err).
			WithOperation("close")
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return errors.WrapScanError(errors.CodeOutputWrite, "Failed to move report into place", err).
			WithOperation("rename")
	}
	return nil
}

// PrintSummary writes a per-host table followed by run totals.
func PrintSummary(w io.Writer, r *scanning.Report) error {
	table := tablewriter.NewWriter(w)
	table.Header("Host", "Status", "Open", "Ports", "Closed", "Expired", "Duration")

	for _, host := range r.SortedHosts() {
		h := r.Hosts[host]
		_ = table.Append([]string{
			host.String(),
			"completed",
			strconv.Itoa(len(h.Ports)),
			formatPorts(h.Ports),
			strconv.Itoa(h.Closed),
			strconv.Itoa(h.Expired),
			h.Duration.Round(time.Millisecond).String(),
		})
	}
	for _, host := range r.SortedFailures() {
		_ = table.Append([]string{host.String(), "failed", "-", "-", "-", "-", "-"})
	}

	if err := table.Render(); err != nil {
		return fmt.Errorf("failed to render summary: %w", err)
	}

	_, err := fmt.Fprintf(w, "Scan %s: %d hosts, %d failed, %d open ports, %d ports per host, took %s\n",
		r.ScanID, len(r.Hosts), len(r.Failures), r.OpenPortCount(), r.Ports.Len(),
		r.Duration().Round(time.Millisecond))
	return err
}

func formatPorts(ports []scanning.PortResult) string {
	if len(ports) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(ports))
	for _, p := range ports {
		parts = append(parts, fmt.Sprintf("%d/%s", p.Port, p.Service))
	}
	return strings.Join(parts, ", ")
}
