package satellite

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/lox/cropwatch/internal/metrics"
	"github.com/lox/cropwatch/internal/models"
)

// FTPProvider reads per-field CSV exports from an index archive laid out as
// {root}/{fieldID}/{index}.csv with rows of date,value,cloud_coverage.
type FTPProvider struct {
	addr     string
	user     string
	password string
	root     string
	timeout  time.Duration
}

func NewFTPProvider(addr, user, password, root string) *FTPProvider {
	if user == "" {
		user, password = "anonymous", "anonymous"
	}
	return &FTPProvider{
		addr:     addr,
		user:     user,
		password: password,
		root:     root,
		timeout:  30 * time.Second,
	}
}

func (p *FTPProvider) Name() string { return "ftp" }

func (p *FTPProvider) GetSeries(ctx context.Context, req Request) ([]models.IndexPoint, error) {
	start := time.Now()
	points, err := p.fetch(ctx, req)
	metrics.ProviderLatency.WithLabelValues(p.Name(), string(req.Index)).Observe(time.Since(start).Seconds())
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.ProviderCallsTotal.WithLabelValues(p.Name(), string(req.Index), status).Inc()
	if err != nil {
		return nil, err
	}
	return thin(points, req.Start, req.End, req.IntervalDays), nil
}

func (p *FTPProvider) fetch(ctx context.Context, req Request) ([]models.IndexPoint, error) {
	conn, err := ftp.Dial(p.addr, ftp.DialWithTimeout(p.timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("ftp dial: %w", err)
	}
	defer conn.Quit()

	if err := conn.Login(p.user, p.password); err != nil {
		return nil, fmt.Errorf("ftp login: %w", err)
	}

	file := path.Join(p.root, req.FieldID, string(req.Index)+".csv")
	resp, err := conn.Retr(file)
	if err != nil {
		return nil, fmt.Errorf("ftp retr %s: %w", file, err)
	}
	defer resp.Close()

	return ParseCSVSeries(resp)
}

// ParseCSVSeries reads date,value[,cloud_coverage] rows. A header row is
// skipped and empty cells are treated as missing.
func ParseCSVSeries(r io.Reader) ([]models.IndexPoint, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var points []models.IndexPoint
	line := 0
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		line++
		if len(rec) == 0 || (line == 1 && strings.EqualFold(strings.TrimSpace(rec[0]), "date")) {
			continue
		}
		if len(rec) < 2 {
			return nil, fmt.Errorf("csv line %d: want at least 2 columns, got %d", line, len(rec))
		}

		d, err := parseDate(strings.TrimSpace(rec[0]))
		if err != nil {
			return nil, fmt.Errorf("csv line %d: parse date: %w", line, err)
		}
		pt := models.IndexPoint{Date: d}
		if v := strings.TrimSpace(rec[1]); v != "" {
			if pt.Value, err = strconv.ParseFloat(v, 64); err != nil {
				return nil, fmt.Errorf("csv line %d: parse value: %w", line, err)
			}
		}
		if len(rec) > 2 {
			if c := strings.TrimSpace(rec[2]); c != "" {
				cc, err := strconv.ParseFloat(c, 64)
				if err != nil {
					return nil, fmt.Errorf("csv line %d: parse cloud coverage: %w", line, err)
				}
				pt.CloudCoverage = sql.NullFloat64{Float64: cc, Valid: true}
			}
		}
		points = append(points, pt)
	}
	sortPoints(points)
	return points, nil
}
