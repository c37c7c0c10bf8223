// Package alerts publishes notable analysis outcomes to a RabbitMQ topic
// exchange so downstream notifiers can fan them out.
package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/lox/cropwatch/internal/metrics"
	"github.com/lox/cropwatch/internal/models"
)

const (
	KindHotspot     = "hotspot"
	KindWaterStress = "water_stress"
	KindDeclining   = "declining_trend"

	DefaultExchange = "cropwatch.alerts"
)

type FieldAlert struct {
	ID          string    `json:"id"`
	FieldID     string    `json:"field_id"`
	FieldName   string    `json:"field_name"`
	Kind        string    `json:"kind"`
	Severity    float64   `json:"severity"`
	Message     string    `json:"message"`
	ObservedAt  time.Time `json:"observed_at"`
	GeneratedAt time.Time `json:"generated_at"`
}

// RoutingKey is field.alert.<kind>.
func (a FieldAlert) RoutingKey() string {
	return "field.alert." + a.Kind
}

// BuildAlerts derives alerts from a result: one per hotspot, one for high
// water stress and one for a declining trend.
func BuildAlerts(field models.Field, r *models.TimeSeriesResult) []FieldAlert {
	if r == nil {
		return nil
	}
	name := field.Name
	if name == "" {
		name = field.FieldID
	}

	var observed time.Time
	if latest := r.Latest(); latest != nil {
		observed = latest.Date
	}
	newAlert := func(kind string, severity float64, msg string) FieldAlert {
		return FieldAlert{
			ID:          uuid.NewString(),
			FieldID:     r.FieldID,
			FieldName:   name,
			Kind:        kind,
			Severity:    severity,
			Message:     msg,
			ObservedAt:  observed,
			GeneratedAt: r.GeneratedAt,
		}
	}

	var out []FieldAlert
	for _, h := range r.Hotspots {
		out = append(out, newAlert(KindHotspot, h.Severity,
			fmt.Sprintf("%s: %s stress hotspot, severity %.2f, about %d m2", name, h.Type, h.Severity, h.AreaM2)))
	}
	if r.WaterStress.StressLevel == models.StressHigh {
		out = append(out, newAlert(KindWaterStress, r.WaterStress.AverageStress,
			fmt.Sprintf("%s: high water stress, average index %.2f", name, r.WaterStress.AverageStress)))
	}
	if r.Trends.OverallTrend == models.TrendDeclining {
		drop := declineSeverity(r)
		out = append(out, newAlert(KindDeclining, drop,
			fmt.Sprintf("%s: vegetation index declining, down %.3f over the period", name, drop)))
	}
	return out
}

// declineSeverity is the net vegetation-index drop from the first to the
// last observation, falling back to the size of the last growth step when
// the series does not end lower than it started. Capped at 1.
func declineSeverity(r *models.TimeSeriesResult) float64 {
	severity := math.Abs(r.Trends.GrowthRate)
	if n := len(r.Series); n > 1 {
		if drop := r.Series[0].NDVI - r.Series[n-1].NDVI; drop > 0 {
			severity = drop
		}
	}
	return math.Min(1, severity)
}

// Channel is the part of *amqp.Channel the publisher uses.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

type Publisher struct {
	conn     *amqp.Connection
	ch       Channel
	exchange string
}

// Dial connects to the broker and declares a durable topic exchange.
func Dial(url, exchange string) (*Publisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	log.Printf("alerts: connected, publishing to exchange %s", exchange)
	return &Publisher{conn: conn, ch: ch, exchange: exchange}, nil
}

// NewPublisher wraps an already-open channel.
func NewPublisher(ch Channel, exchange string) *Publisher {
	if exchange == "" {
		exchange = DefaultExchange
	}
	return &Publisher{ch: ch, exchange: exchange}
}

// Publish sends every alert derived from the result and returns how many
// were delivered to the broker. It stops at the first failure.
func (p *Publisher) Publish(ctx context.Context, field models.Field, r *models.TimeSeriesResult) (int, error) {
	sent := 0
	for _, a := range BuildAlerts(field, r) {
		body, err := json.Marshal(a)
		if err != nil {
			return sent, fmt.Errorf("marshal alert: %w", err)
		}
		err = p.ch.PublishWithContext(ctx, p.exchange, a.RoutingKey(), false, false, amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			MessageId:    a.ID,
			Timestamp:    time.Now(),
			Body:         body,
		})
		if err != nil {
			metrics.AlertsPublished.WithLabelValues(a.Kind, "error").Inc()
			return sent, fmt.Errorf("publish %s: %w", a.RoutingKey(), err)
		}
		metrics.AlertsPublished.WithLabelValues(a.Kind, "ok").Inc()
		sent++
	}
	return sent, nil
}

func (p *Publisher) Close() error {
	if p.conn == nil {
		return nil
	}
	return p.conn.Close()
}
