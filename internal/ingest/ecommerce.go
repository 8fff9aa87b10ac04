package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/suteetoe/coursecatalog/internal/apperr"
	"github.com/suteetoe/coursecatalog/internal/model"
	"github.com/suteetoe/coursecatalog/internal/store"
	"go.uber.org/zap"
)

type ecommerceRecord struct {
	ID       string             `json:"id"`
	Products []ecommerceProduct `json:"products"`
}

type ecommerceProduct struct {
	Structure       string `json:"structure"`
	Expires         string `json:"expires"`
	AttributeValues []struct {
		Name  string `json:"name"`
		Value any    `json:"value"`
	} `json:"attribute_values"`
	StockRecords []struct {
		PriceCurrency string `json:"price_currency"`
		PriceExclTax  any    `json:"price_excl_tax"`
	} `json:"stockrecords"`
}

func (p *ecommerceProduct) attribute(name string) (string, bool) {
	for _, a := range p.AttributeValues {
		if a.Name == name && a.Value != nil {
			return fmt.Sprint(a.Value), true
		}
	}
	return "", false
}

// seat builds the seat a child product describes
func (p *ecommerceProduct) seat(runID uint) (*model.Seat, error) {
	if len(p.StockRecords) == 0 {
		return nil, fmt.Errorf("product without stock record")
	}
	sr := p.StockRecords[0]
	price, err := decimal.NewFromString(fmt.Sprint(sr.PriceExclTax))
	if err != nil {
		return nil, fmt.Errorf("invalid price %v", sr.PriceExclTax)
	}
	seat := &model.Seat{
		CourseRunID: runID,
		Type:        model.DefaultCertificateType,
		Price:       price,
		Currency:    strings.ToUpper(sr.PriceCurrency),
	}
	if seat.Currency == "" {
		seat.Currency = model.DefaultCurrency
	}
	if v, ok := p.attribute("certificate_type"); ok && v != "" {
		seat.Type = strings.ToLower(v)
	}
	if seat.Type == model.SeatProfessional {
		if v, ok := p.attribute("id_verification_required"); ok && v == "false" {
			seat.Type = model.SeatNoIDProfessional
		}
	}
	if v, ok := p.attribute("credit_provider"); ok {
		seat.CreditProvider = v
	}
	if v, ok := p.attribute("credit_hours"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid credit_hours %q", v)
		}
		seat.CreditHours = int(f)
	}
	if seat.Type == model.SeatCredit {
		seat.CreditPrice = price
		if v, ok := p.attribute("credit_price"); ok {
			if cp, err := decimal.NewFromString(v); err == nil {
				seat.CreditPrice = cp
			}
		}
	}
	if seat.UpgradeDeadline, err = parseTime(p.Expires); err != nil {
		return nil, err
	}
	return seat, seat.Validate()
}

func seatKey(s *model.Seat) string {
	return s.Type + "|" + s.CreditProvider + "|" + s.Currency
}

// EcommerceLoader reconciles the seats of each listed run with its child
// products. Seats absent from a run's products are deleted once the run's
// products are processed.
type EcommerceLoader struct {
	base
}

// NewEcommerceLoader creates the ecommerce seats loader
func NewEcommerceLoader(o Options) *EcommerceLoader {
	return &EcommerceLoader{base: newBase("ecommerce", o)}
}

// Ingest pages the ecommerce API
func (l *EcommerceLoader) Ingest(ctx context.Context) (*Summary, error) {
	start := time.Now()
	deleted := 0
	s, err := l.pages(ctx, l.Partner.EcommerceAPIURL, func(ctx context.Context, raw json.RawMessage) (string, error) {
		n, id, err := l.update(ctx, raw)
		deleted += n
		return id, err
	})
	s.Deleted = deleted
	return l.finish(s, start, err)
}

func (l *EcommerceLoader) update(ctx context.Context, raw json.RawMessage) (int, string, error) {
	var rec ecommerceRecord
	if err := decodeRecord(raw, &rec); err != nil {
		return 0, "", err
	}
	runKey, err := runKeyOf(rec.ID)
	if err != nil {
		return 0, rec.ID, err
	}
	deleted := 0
	err = l.withTx(ctx, func(tx *store.Tx) error {
		run, err := tx.CourseRunByKey(l.Partner.ID, runKey)
		if apperr.Is(err, apperr.KindNotFound) {
			return skipf("unknown course run %s", runKey)
		}
		if err != nil {
			return err
		}

		var existing []model.Seat
		if err := tx.DB().Where("course_run_id = ?", run.ID).Find(&existing).Error; err != nil {
			return err
		}
		byKey := make(map[string]*model.Seat, len(existing))
		for i := range existing {
			byKey[seatKey(&existing[i])] = &existing[i]
		}

		listed := map[string]bool{}
		for i := range rec.Products {
			p := &rec.Products[i]
			if p.Structure != "child" {
				continue
			}
			seat, err := p.seat(run.ID)
			if seat != nil {
				listed[seatKey(seat)] = true
			}
			if err != nil {
				l.Log.Warn("Skipping invalid product", zap.String("course_run", run.Key), zap.Error(err))
				continue
			}
			if cur, ok := byKey[seatKey(seat)]; ok {
				seat.ID = cur.ID
				seat.CreatedAt = cur.CreatedAt
			}
			if err := tx.Save(seat); err != nil {
				return err
			}
			byKey[seatKey(seat)] = seat
		}

		for key, seat := range byKey {
			if listed[key] {
				continue
			}
			if err := tx.Delete(seat); err != nil {
				return err
			}
			deleted++
		}
		return deriveRunStatus(tx, run.ID)
	})
	if err != nil {
		return 0, runKey, err
	}
	return deleted, runKey, nil
}
