package rodhost

import (
	"net/http"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"shroud/internal/filter"
)

func (h *Host) serveHijack(p *filter.Pipeline, client *http.Client, hj *rod.Hijack) {
	req := hj.Request.Req()
	rawURL := hj.Request.URL().String()
	kind := resourceTypeName(hj.Request.Type())

	firstParty := filter.HeaderValue(req.Header, "Referer")
	if kind == "main_frame" {
		h.document.Store(rawURL)
		firstParty = rawURL
	} else if firstParty == "" {
		firstParty = h.documentURL()
	}

	d := p.Before(&filter.Request{
		URL:           rawURL,
		Method:        hj.Request.Method(),
		ResourceType:  kind,
		Header:        req.Header,
		FirstPartyURL: firstParty,
	})
	switch d.Action {
	case filter.Block:
		hj.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
		return
	case filter.Modify:
		req.Header = d.Header
	}

	if err := hj.LoadResponse(client, true); err != nil {
		p.Failed(rawURL, kind, err)
		hj.Response.Fail(proto.NetworkErrorReasonFailed)
		return
	}

	payload := hj.Response.Payload()
	filtered := p.After(&filter.Response{
		URL:           rawURL,
		FirstPartyURL: firstParty,
		ResourceType:  kind,
		StatusCode:    payload.ResponseCode,
		Header:        headerFromEntries(payload.ResponseHeaders),
	})
	payload.ResponseHeaders = entriesFromHeader(filtered)
	p.Completed(rawURL, kind, payload.ResponseCode)
}

// resourceTypeName maps CDP resource types onto the filter's vocabulary.
func resourceTypeName(t proto.NetworkResourceType) string {
	switch t {
	case proto.NetworkResourceTypeDocument:
		return "main_frame"
	case proto.NetworkResourceTypeStylesheet:
		return "stylesheet"
	case proto.NetworkResourceTypeImage:
		return "image"
	case proto.NetworkResourceTypeMedia:
		return "media"
	case proto.NetworkResourceTypeFont:
		return "font"
	case proto.NetworkResourceTypeScript:
		return "script"
	case proto.NetworkResourceTypeXHR, proto.NetworkResourceTypeFetch:
		return "xmlhttprequest"
	case proto.NetworkResourceTypeWebSocket:
		return "websocket"
	case proto.NetworkResourceTypePing:
		return "ping"
	case proto.NetworkResourceTypeCSPViolationReport:
		return "csp_report"
	default:
		return "other"
	}
}

func headerFromEntries(entries []*proto.FetchHeaderEntry) http.Header {
	h := http.Header{}
	for _, e := range entries {
		if e == nil {
			continue
		}
		h[e.Name] = append(h[e.Name], e.Value)
	}
	return h
}

func entriesFromHeader(h http.Header) []*proto.FetchHeaderEntry {
	out := make([]*proto.FetchHeaderEntry, 0, len(h))
	for name, values := range h {
		for _, v := range values {
			out = append(out, &proto.FetchHeaderEntry{Name: name, Value: v})
		}
	}
	return out
}
