// Package brewery is a client for the EasyBeer brewery-management API.
// Calls are made once with basic auth; failures surface as
// common.ErrExternalService.
package brewery

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/fermentstation/internal/common"
	"github.com/dmitrijs2005/fermentstation/internal/logging"
	"github.com/dmitrijs2005/fermentstation/internal/netx"
)

const (
	DefaultBaseURL   = "https://api.easybeer.fr"
	DefaultBreweryID = 2013
	DefaultTimeout   = 30 * time.Second
	serviceName      = "brewery"
)

// PeriodType discriminates how the API interprets a reporting period.
type PeriodType string

// PeriodFree makes the API honour the explicit start and end dates.
const PeriodFree PeriodType = "PERIODE_LIBRE"

var errNotConfigured = errors.New("EASYBEER_API_USER/EASYBEER_API_PASS are not set")

type Config struct {
	User      string
	Password  string
	BreweryID int
	BaseURL   string
	Timeout   time.Duration
}

type Client struct {
	cfg  Config
	http *http.Client
	log  logging.Logger
	now  func() time.Time
}

func NewClient(cfg Config, log logging.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.BreweryID == 0 {
		cfg.BreweryID = DefaultBreweryID
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log.With("module", "brewery"),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Configured reports whether credentials are present.
func (c *Client) Configured() bool {
	return c.cfg.User != "" && c.cfg.Password != ""
}

type period struct {
	Start string     `json:"dateDebut"`
	End   string     `json:"dateFin"`
	Type  PeriodType `json:"type"`
}

type indicatorRequest struct {
	BreweryID int    `json:"idBrasserie"`
	Period    period `json:"periode"`
}

// indicator builds the payload shared by the /indicateur endpoints: a free
// period covering the last windowDays days, whole days in UTC.
func (c *Client) indicator(windowDays int) indicatorRequest {
	end := c.now().UTC()
	start := end.AddDate(0, 0, -windowDays)
	return indicatorRequest{
		BreweryID: c.cfg.BreweryID,
		Period: period{
			Start: start.Format("2006-01-02") + "T00:00:00.000Z",
			End:   end.Format("2006-01-02") + "T23:59:59.999Z",
			Type:  PeriodFree,
		},
	}
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := strings.TrimRight(c.cfg.BaseURL, "/") + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body any) (*http.Request, error) {
	if !c.Configured() {
		return nil, common.ExternalError(serviceName, errNotConfigured)
	}
	req, err := netx.NewJSONRequest(ctx, method, c.endpoint(path, query), body)
	if err != nil {
		return nil, common.ExternalError(serviceName, err)
	}
	req.SetBasicAuth(c.cfg.User, c.cfg.Password)
	return req, nil
}

func (c *Client) doJSON(ctx context.Context, req *http.Request, out any) error {
	if err := netx.DoJSON(c.http, req, out); err != nil {
		c.log.Error(ctx, "brewery api call failed", "path", req.URL.Path, "error", err)
		return common.ExternalError(serviceName, err)
	}
	return nil
}

// StockAutonomy returns days of stock per finished product over the last
// windowDays days. forceRefresh asks the API to bypass its cache.
func (c *Client) StockAutonomy(ctx context.Context, windowDays int, forceRefresh bool) (*Autonomy, error) {
	q := url.Values{"forceRefresh": {strconv.FormatBool(forceRefresh)}}
	req, err := c.newRequest(ctx, http.MethodPost, "/indicateur/autonomie-stocks", q, c.indicator(windowDays))
	if err != nil {
		return nil, err
	}
	out := &Autonomy{}
	if err := c.doJSON(ctx, req, out); err != nil {
		return nil, err
	}
	return out, nil
}

// StockAutonomyExcel returns the same indicator rendered as an xlsx file.
func (c *Client) StockAutonomyExcel(ctx context.Context, windowDays int) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/indicateur/autonomie-stocks/export/excel", nil, c.indicator(windowDays))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/octet-stream")

	b, err := netx.Do(c.http, req)
	if err != nil {
		c.log.Error(ctx, "brewery excel export failed", "error", err)
		return nil, common.ExternalError(serviceName, err)
	}
	return b, nil
}

// MaterialConsumption summarises raw-material usage over the last windowDays days.
func (c *Client) MaterialConsumption(ctx context.Context, windowDays int, forceRefresh bool) (*Consumption, error) {
	q := url.Values{"forceRefresh": {strconv.FormatBool(forceRefresh)}}
	req, err := c.newRequest(ctx, http.MethodPost, "/indicateur/synthese-consommations-mp", q, c.indicator(windowDays))
	if err != nil {
		return nil, err
	}
	out := &Consumption{}
	if err := c.doJSON(ctx, req, out); err != nil {
		return nil, err
	}
	return out, nil
}

// RawMaterials lists raw materials; status is "actif", "inactif" or "all".
func (c *Client) RawMaterials(ctx context.Context, status string) ([]RawMaterial, error) {
	if status == "" {
		status = "actif"
	}
	req, err := c.newRequest(ctx, http.MethodGet, "/stock/matieres-premieres/all", url.Values{"status": {status}}, nil)
	if err != nil {
		return nil, err
	}
	out := []RawMaterial{}
	if err := c.doJSON(ctx, req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Products(ctx context.Context) ([]Product, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/parametres/produit/liste/all", nil, nil)
	if err != nil {
		return nil, err
	}
	out := []Product{}
	if err := c.doJSON(ctx, req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Warehouses(ctx context.Context) ([]Warehouse, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/parametres/entrepot/liste", nil, nil)
	if err != nil {
		return nil, err
	}
	out := []Warehouse{}
	if err := c.doJSON(ctx, req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ProductDetail returns a product with its recipes.
func (c *Client) ProductDetail(ctx context.Context, productID int) (*ProductDetail, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/parametres/produit/edition/"+strconv.Itoa(productID), nil, nil)
	if err != nil {
		return nil, err
	}
	out := &ProductDetail{}
	if err := c.doJSON(ctx, req, out); err != nil {
		return nil, err
	}
	return out, nil
}

// MaterialLots lists the numbered lots in stock for a raw material.
func (c *Client) MaterialLots(ctx context.Context, materialID int) ([]Lot, error) {
	path := "/stock/matieres-premieres/numero-lot/liste/" + strconv.Itoa(materialID)
	req, err := c.newRequest(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, err
	}
	out := []Lot{}
	if err := c.doJSON(ctx, req, &out); err != nil {
		return nil, err
	}
	return out, nil
}
