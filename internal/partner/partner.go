// Package partner seeds partners from a YAML file
package partner

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/suteetoe/coursecatalog/internal/apperr"
	"github.com/suteetoe/coursecatalog/internal/model"
	"github.com/suteetoe/coursecatalog/internal/store"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Definition is one partner entry of the seed file
type Definition struct {
	ShortCode            string `yaml:"short_code"`
	Name                 string `yaml:"name"`
	CoursesAPIURL        string `yaml:"courses_api_url"`
	EcommerceAPIURL      string `yaml:"ecommerce_api_url"`
	OrganizationsAPIURL  string `yaml:"organizations_api_url"`
	ProgramsAPIURL       string `yaml:"programs_api_url"`
	MarketingAPIURL      string `yaml:"marketing_api_url"`
	MarketingSiteURLRoot string `yaml:"marketing_site_url_root"`
	OAuth2ProviderURL    string `yaml:"oauth2_provider_url"`
	OAuth2ClientID       string `yaml:"oauth2_client_id"`
	OAuth2ClientSecret   string `yaml:"oauth2_client_secret"`
}

// File is the seed document
type File struct {
	Partners []Definition `yaml:"partners"`
}

// Report lists the short codes touched by a sync
type Report struct {
	Created []string `json:"created"`
	Updated []string `json:"updated"`
}

// Parse decodes and validates a seed document
func Parse(r io.Reader) (*File, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return nil, apperr.Wrap(apperr.KindValidation, err, "invalid partner file")
	}
	seen := map[string]bool{}
	for i := range f.Partners {
		d := &f.Partners[i]
		d.ShortCode = strings.TrimSpace(d.ShortCode)
		if d.ShortCode == "" {
			return nil, apperr.Validation("partner %d has no short_code", i+1)
		}
		if len(d.ShortCode) > 8 {
			return nil, apperr.Validation("short_code %q is longer than 8 characters", d.ShortCode)
		}
		if seen[d.ShortCode] {
			return nil, apperr.Validation("short_code %q is listed twice", d.ShortCode)
		}
		seen[d.ShortCode] = true
		if d.Name == "" {
			d.Name = d.ShortCode
		}
		if (d.OAuth2ClientID == "") != (d.OAuth2ClientSecret == "") {
			return nil, apperr.Validation("partner %s needs both oauth2_client_id and oauth2_client_secret", d.ShortCode)
		}
	}
	return &f, nil
}

// ParseFile reads a seed document from disk
func ParseFile(path string) (*File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open partner file: %w", err)
	}
	defer fh.Close()
	return Parse(fh)
}

// Sync upserts every listed partner by short code. Existing partners get
// their name, URLs and credentials replaced; partners absent from the file
// are left alone.
func Sync(ctx context.Context, st *store.Store, f *File, log *zap.Logger) (*Report, error) {
	if log == nil {
		log = zap.NewNop()
	}
	report := &Report{}
	err := st.WithTx(ctx, "partners", nil, func(tx *store.Tx) error {
		for _, d := range f.Partners {
			p, err := tx.PartnerByShortCode(d.ShortCode)
			created := false
			if apperr.Is(err, apperr.KindNotFound) {
				p = &model.Partner{ShortCode: d.ShortCode}
				created = true
			} else if err != nil {
				return err
			}
			apply(p, d)
			if err := tx.Save(p); err != nil {
				return err
			}
			if created {
				report.Created = append(report.Created, d.ShortCode)
			} else {
				report.Updated = append(report.Updated, d.ShortCode)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Info("Synced partners",
		zap.Strings("created", report.Created),
		zap.Strings("updated", report.Updated))
	return report, nil
}

func apply(p *model.Partner, d Definition) {
	p.Name = d.Name
	p.CoursesAPIURL = d.CoursesAPIURL
	p.EcommerceAPIURL = d.EcommerceAPIURL
	p.OrganizationsAPIURL = d.OrganizationsAPIURL
	p.ProgramsAPIURL = d.ProgramsAPIURL
	p.MarketingAPIURL = d.MarketingAPIURL
	p.MarketingSiteURLRoot = d.MarketingSiteURLRoot
	p.OAuth2ProviderURL = d.OAuth2ProviderURL
	p.OAuth2ClientID = d.OAuth2ClientID
	p.OAuth2ClientSecret = d.OAuth2ClientSecret
}
