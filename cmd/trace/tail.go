package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/nxadm/tail"
	"github.com/spf13/cobra"
)

// combinedLogPattern matches the nginx/apache combined log format.
var combinedLogPattern = regexp.MustCompile(
	`^(\S+) \S+ \S+ \[([^\]]+)\] "(\S+) (\S+)[^"]*" (\d{3}) (\d+|-)(?: "[^"]*" "([^"]*)")?`)

func tailCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tail <access-log>",
		Short: "Follow an nginx access log and ship parsed events",
		Long: `Follows an access log in combined format, parses each line into a
crawl event, and ships signed NDJSON batches to the server. Batches are
flushed when full or on the flush interval, whichever comes first.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			host, _ := cmd.Flags().GetString("host")
			if host == "" {
				return fmt.Errorf("--host is required")
			}
			batchSize, _ := cmd.Flags().GetInt("batch-size")
			interval, _ := cmd.Flags().GetDuration("flush-interval")
			fromStart, _ := cmd.Flags().GetBool("from-start")

			client, err := newClient()
			if err != nil {
				return err
			}

			tcfg := tail.Config{
				Follow: true,
				ReOpen: true,
				Logger: tail.DiscardingLogger,
			}
			if !fromStart {
				tcfg.Location = &tail.SeekInfo{Offset: 0, Whence: io.SeekEnd}
			}
			t, err := tail.TailFile(args[0], tcfg)
			if err != nil {
				return fmt.Errorf("opening %s: %w", args[0], err)
			}
			defer t.Cleanup()

			return runTailer(client, t, host, batchSize, interval)
		},
	}
	cmd.Flags().String("host", "", "Site hostname to attribute events to")
	cmd.Flags().Int("batch-size", 100, "Events per batch")
	cmd.Flags().Duration("flush-interval", 5*time.Second, "Maximum time to hold a partial batch")
	cmd.Flags().Bool("from-start", false, "Read the whole file instead of starting at the end")
	return cmd
}

func runTailer(client *Client, t *tail.Tail, host string, batchSize int, interval time.Duration) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var batch []json.RawMessage
	flush := func() {
		if len(batch) == 0 {
			return
		}
		lines := make([]string, len(batch))
		for i, e := range batch {
			lines[i] = string(e)
		}
		body := []byte(strings.Join(lines, "\n"))
		result, err := client.signedJSON("POST", "/v1/events", "application/x-ndjson", body)
		if err != nil {
			// Drop the batch; the log file itself remains the durable record.
			fmt.Fprintf(os.Stderr, "ship failed, dropping %d events: %v\n", len(batch), err)
		} else {
			fmt.Fprintf(os.Stderr, "shipped %v events\n", result["inserted"])
		}
		batch = batch[:0]
	}

	for {
		select {
		case line, ok := <-t.Lines:
			if !ok {
				flush()
				return t.Err()
			}
			if line.Err != nil {
				continue
			}
			event, ok := parseLogLine(line.Text, host)
			if !ok {
				continue
			}
			raw, err := json.Marshal(event)
			if err != nil {
				continue
			}
			batch = append(batch, raw)
			if len(batch) >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-quit:
			flush()
			return nil
		}
	}
}

// parseLogLine converts one combined-format line into the wire event
// shape. Unparsable lines are skipped.
func parseLogLine(line, host string) (map[string]any, bool) {
	m := combinedLogPattern.FindStringSubmatch(line)
	if m == nil {
		return nil, false
	}

	event := map[string]any{
		"host":      host,
		"path":      m[4],
		"method":    m[3],
		"ip_prefix": ipPrefix(m[1]),
		"source":    "nginx",
	}
	if ts, err := time.Parse("02/Jan/2006:15:04:05 -0700", m[2]); err == nil {
		event["ts"] = ts.UnixMilli()
	}
	if status, err := strconv.Atoi(m[5]); err == nil {
		event["status"] = status
	}
	if m[6] != "-" {
		if bytes, err := strconv.ParseInt(m[6], 10, 64); err == nil {
			event["bytes"] = bytes
		}
	}
	if m[7] != "" && m[7] != "-" {
		event["ua"] = m[7]
	}
	return event, true
}

// ipPrefix truncates an address for storage: /24 for IPv4, /48 for IPv6.
func ipPrefix(s string) string {
	ip := net.ParseIP(s)
	if ip == nil {
		return ""
	}
	if v4 := ip.To4(); v4 != nil {
		return fmt.Sprintf("%d.%d.%d.0/24", v4[0], v4[1], v4[2])
	}
	masked := ip.Mask(net.CIDRMask(48, 128))
	return masked.String() + "/48"
}
