// Package geo resolves the public egress address of a session and enriches
// it with country, city and street level hints.
package geo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/allegro/bigcache/v3"
	"github.com/charmbracelet/log"
	"github.com/oschwald/geoip2-golang"
	"golang.org/x/sync/errgroup"
)

const maxBodyBytes = 256 << 10

var ErrNoAddress = errors.New("ip endpoint returned no address")

// Result is the outcome of one lookup. Enrichment fields stay empty when
// their source is unavailable.
type Result struct {
	IP          string  `json:"ip"`
	Country     string  `json:"country"`
	CountryCode string  `json:"countryCode"`
	CountryName string  `json:"countryName"`
	City        string  `json:"city,omitempty"`
	Lat         float64 `json:"lat,omitempty"`
	Lon         float64 `json:"lon,omitempty"`
	Street      string  `json:"street,omitempty"`
	Postcode    string  `json:"postcode,omitempty"`
	Timezone    string  `json:"timezone,omitempty"`
}

type Options struct {
	Endpoint          string
	CityDBPath        string
	ReverseGeocodeURL string
	CacheTTL          time.Duration
	UserAgent         string
}

type cityLookup interface {
	City(ip net.IP) (*geoip2.City, error)
}

type Resolver struct {
	opts   Options
	cities cityLookup
	closer io.Closer
	cache  *bigcache.BigCache
}

func NewResolver(ctx context.Context, opts Options) (*Resolver, error) {
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("geo: endpoint is required")
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 10 * time.Minute
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "shroud-geo/1.0"
	}

	cacheConfig := bigcache.DefaultConfig(opts.CacheTTL)
	cacheConfig.Shards = 16
	cacheConfig.MaxEntrySize = 1024
	cacheConfig.HardMaxCacheSize = 8
	cacheConfig.Verbose = false
	cache, err := bigcache.New(ctx, cacheConfig)
	if err != nil {
		return nil, fmt.Errorf("geo: create cache: %w", err)
	}

	r := &Resolver{opts: opts, cache: cache}
	if opts.CityDBPath != "" {
		reader, err := geoip2.Open(opts.CityDBPath)
		if err != nil {
			log.Warn("geo: city database unavailable", "path", opts.CityDBPath, "error", err)
		} else {
			r.cities = reader
			r.closer = reader
		}
	}
	return r, nil
}

func (r *Resolver) Close() error {
	var errs []error
	if r.closer != nil {
		errs = append(errs, r.closer.Close())
	}
	errs = append(errs, r.cache.Close())
	return errors.Join(errs...)
}

// Lookup queries the IP endpoint through client. Only a failure of the
// endpoint itself is returned as an error.
func (r *Resolver) Lookup(ctx context.Context, client *http.Client) (Result, error) {
	echo, err := r.fetchEcho(ctx, client)
	if err != nil {
		return Result{}, err
	}

	res := Result{IP: echo.IP, Country: echo.Country}
	var enrich enrichment

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		raw := echo.CountryCode
		if raw == "" {
			raw = echo.Country
		}
		res.CountryCode, res.CountryName = ResolveCountry(raw)
		if res.CountryCode == "" {
			res.CountryCode = "?"
		}
		if res.CountryName == "" {
			res.CountryName = echo.Country
		}
		return nil
	})
	g.Go(func() error {
		enrich = r.enrich(gctx, client, echo.IP)
		return nil
	})
	_ = g.Wait()

	res.City, res.Lat, res.Lon = enrich.City, enrich.Lat, enrich.Lon
	res.Street, res.Postcode = enrich.Street, enrich.Postcode
	res.Timezone = enrich.Timezone
	if res.Timezone == "" {
		res.Timezone = TimezoneFor(res.CountryCode)
	}
	return res, nil
}

type echoPayload struct {
	IP          string `json:"ip"`
	Country     string `json:"country"`
	CountryCode string `json:"cc"`
}

func (r *Resolver) fetchEcho(ctx context.Context, client *http.Client) (echoPayload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.opts.Endpoint, nil)
	if err != nil {
		return echoPayload{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return echoPayload{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return echoPayload{}, fmt.Errorf("ip endpoint returned %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return echoPayload{}, err
	}

	var payload echoPayload
	if err := json.Unmarshal(body, &payload); err == nil && payload.IP != "" {
		return payload, nil
	}

	ip, err := scrapeAddress(body)
	if err != nil {
		return echoPayload{}, err
	}
	return echoPayload{IP: ip}, nil
}

// scrapeAddress pulls the first IP literal out of an HTML or plain text body.
func scrapeAddress(body []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	for _, field := range strings.FieldsFunc(doc.Text(), func(r rune) bool {
		return !(r == '.' || r == ':' || (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F'))
	}) {
		if ip := net.ParseIP(strings.Trim(field, ".:")); ip != nil {
			return ip.String(), nil
		}
	}
	return "", ErrNoAddress
}

type enrichment struct {
	City     string  `json:"city"`
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	Street   string  `json:"street"`
	Postcode string  `json:"postcode"`
	Timezone string  `json:"timezone"`
}

func (r *Resolver) enrich(ctx context.Context, client *http.Client, rawIP string) enrichment {
	if cached, err := r.cache.Get(rawIP); err == nil {
		var e enrichment
		if json.Unmarshal(cached, &e) == nil {
			return e
		}
	}

	var e enrichment
	if ip := net.ParseIP(rawIP); ip != nil && r.cities != nil {
		record, err := r.cities.City(ip)
		if err != nil {
			log.Debug("geo: city lookup failed", "ip", rawIP, "error", err)
		} else {
			e.City = record.City.Names["en"]
			e.Lat = record.Location.Latitude
			e.Lon = record.Location.Longitude
			e.Timezone = record.Location.TimeZone
		}
	}

	if e.Lat != 0 && e.Lon != 0 && r.opts.ReverseGeocodeURL != "" {
		street, postcode, err := r.reverse(ctx, client, e.Lat, e.Lon)
		if err != nil {
			log.Debug("geo: reverse geocoding failed", "error", err)
		}
		e.Street, e.Postcode = street, postcode
	}

	if encoded, err := json.Marshal(e); err == nil {
		_ = r.cache.Set(rawIP, encoded)
	}
	return e
}

type reversePayload struct {
	Address struct {
		Road          string `json:"road"`
		Neighbourhood string `json:"neighbourhood"`
		Postcode      string `json:"postcode"`
	} `json:"address"`
}

func (r *Resolver) reverse(ctx context.Context, client *http.Client, lat, lon float64) (string, string, error) {
	u, err := url.Parse(r.opts.ReverseGeocodeURL)
	if err != nil {
		return "", "", err
	}
	q := u.Query()
	q.Set("format", "json")
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
	q.Set("zoom", "16")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", "", err
	}
	req.Header.Set("User-Agent", r.opts.UserAgent)

	resp, err := client.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("reverse geocoder returned %s", resp.Status)
	}

	var payload reversePayload
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&payload); err != nil {
		return "", "", err
	}
	street := payload.Address.Road
	if street == "" {
		street = payload.Address.Neighbourhood
	}
	return street, payload.Address.Postcode, nil
}
