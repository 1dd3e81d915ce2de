package main

import (
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/venue-app/pricingservice/internal/config"
	"github.com/venue-app/pricingservice/internal/domain"
	"github.com/venue-app/pricingservice/internal/log"
	"github.com/venue-app/pricingservice/internal/repository/postgres"
)

// CSV columns, after a header row:
//
//	name,level,entity_id,priority,start_time,end_time,price_per_hour,effective_from,days_of_week
//
// Rows sharing name, level and entity_id become one TIMING_BASED rule with
// one window per row. days_of_week is optional, e.g. "1;2;3;4;5" (0 = Sunday).
const minColumns = 8

func main() {
	configPath := flag.String("config", "config.yaml", "path to the service config file")
	dryRun := flag.Bool("dry-run", false, "parse and validate only")
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: import-pricing-rules [-config config.yaml] [-dry-run] <csv-file-path>")
		os.Exit(2)
	}

	if err := run(*configPath, flag.Arg(0), *dryRun); err != nil {
		fmt.Fprintf(os.Stderr, "import-pricing-rules: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, csvPath string, dryRun bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := log.Init(cfg.Log.Level, cfg.Log.Encoding); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger := log.Logger()

	file, err := os.Open(csvPath)
	if err != nil {
		return fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	rules, err := readRules(file, time.Now().UTC())
	if err != nil {
		return err
	}
	logger.Info("Loaded pricing rules from CSV", zap.Int("rules", len(rules)), zap.String("file", csvPath))

	if dryRun {
		for _, r := range rules {
			logger.Info("Parsed rule",
				zap.String("name", r.Name),
				zap.String("level", string(r.AppliesTo.Level)),
				zap.String("entity_id", r.AppliesTo.EntityID),
				zap.Int("windows", len(r.Spec.(domain.TimingSpec).Windows)))
		}
		return nil
	}

	ctx := context.Background()
	dbConfig := postgres.DefaultConfig()
	dbConfig.DSN = cfg.Postgres.DSN
	dbConfig.MaxConns = cfg.Postgres.MaxConns
	store, err := postgres.NewStore(ctx, dbConfig)
	if err != nil {
		return fmt.Errorf("failed to create database pool: %w", err)
	}
	defer store.Close()

	repo := store.Rules()
	for _, r := range rules {
		if err := repo.InsertOne(ctx, r); err != nil {
			return fmt.Errorf("failed to import rule %q: %w", r.Name, err)
		}
	}

	logger.Info("Imported pricing rules as DRAFT; submit them for approval to take effect",
		zap.Int("rules", len(rules)))
	return nil
}

type ruleKey struct {
	name   string
	level  domain.Level
	entity string
}

// readRules parses the CSV into DRAFT timing rules. Any invalid row fails the
// whole import so that a partial rate sheet is never written.
func readRules(r io.Reader, now time.Time) ([]domain.PricingRule, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	if _, err := reader.Read(); err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	var (
		order []ruleKey
		byKey = make(map[ruleKey]*domain.PricingRule)
		line  = 1
	)
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if len(record) < minColumns {
			return nil, fmt.Errorf("line %d: expected at least %d columns, got %d", line, minColumns, len(record))
		}

		key := ruleKey{
			name:   strings.TrimSpace(record[0]),
			level:  domain.Level(strings.ToUpper(strings.TrimSpace(record[1]))),
			entity: strings.TrimSpace(record[2]),
		}
		window, err := parseWindow(record)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		rule, ok := byKey[key]
		if !ok {
			priority, err := strconv.Atoi(strings.TrimSpace(record[3]))
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid priority %q", line, record[3])
			}
			effectiveFrom, err := time.Parse(time.RFC3339, strings.TrimSpace(record[7]))
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid effective_from %q", line, record[7])
			}
			rule = &domain.PricingRule{
				ID:             uuid.New().String(),
				Name:           key.name,
				AppliesTo:      domain.AppliesTo{Level: key.level, EntityID: key.entity},
				Priority:       priority,
				EffectiveFrom:  effectiveFrom.UTC(),
				ApprovalStatus: domain.StatusDraft,
				CreatedAt:      now,
				UpdatedAt:      now,
				Spec:           domain.TimingSpec{},
			}
			byKey[key] = rule
			order = append(order, key)
		}
		spec := rule.Spec.(domain.TimingSpec)
		spec.Windows = append(spec.Windows, window)
		rule.Spec = spec
	}

	rules := make([]domain.PricingRule, 0, len(order))
	for _, key := range order {
		rule := *byKey[key]
		if err := rule.Validate(); err != nil {
			return nil, fmt.Errorf("rule %q: %w", rule.Name, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func parseWindow(record []string) (domain.TimeWindow, error) {
	price, err := decimal.NewFromString(strings.TrimSpace(record[6]))
	if err != nil {
		return domain.TimeWindow{}, fmt.Errorf("invalid price_per_hour %q", record[6])
	}
	if price.IsNegative() || price.Exponent() < -2 {
		return domain.TimeWindow{}, fmt.Errorf("price_per_hour must be a non-negative amount with at most two decimals, got %s", price)
	}

	window := domain.TimeWindow{
		StartTime: strings.TrimSpace(record[4]),
		EndTime:   strings.TrimSpace(record[5]),
		Value:     price.InexactFloat64(),
	}
	if len(record) > minColumns && strings.TrimSpace(record[8]) != "" {
		for _, d := range strings.Split(record[8], ";") {
			day, err := strconv.Atoi(strings.TrimSpace(d))
			if err != nil || day < 0 || day > 6 {
				return domain.TimeWindow{}, fmt.Errorf("invalid day of week %q", d)
			}
			window.DaysOfWeek = append(window.DaysOfWeek, time.Weekday(day))
		}
	}
	return window, nil
}
