package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"relay-proxy-go/internal/model"
	"relay-proxy-go/internal/service"
)

// ProxyPrefix is the route prefix under which requests are forwarded.
const ProxyPrefix = "/proxy"

// HeaderProxyHost names the target authority explicitly. It is consumed by
// the handler and never forwarded.
const HeaderProxyHost = "X-Proxy-Host"

// ProxyHandler adapts inbound echo requests to the forwarding service.
type ProxyHandler struct {
	service *service.ProxyService
	logger  *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.ProxyService, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		logger:  logger.With("component", "proxy_handler"),
	}
}

// Handle forwards the request and writes the buffered upstream response.
func (h *ProxyHandler) Handle(c echo.Context) error {
	pr, err := h.buildRequest(c)
	if err != nil {
		return err
	}

	resp, err := h.service.Forward(c.Request().Context(), pr)
	if err != nil {
		return h.mapError(c, pr, err)
	}

	dst := c.Response().Header()
	for key, vals := range resp.Header {
		for _, v := range vals {
			dst.Add(key, v)
		}
	}
	c.Response().WriteHeader(resp.StatusCode)

	if len(resp.Content) == 0 {
		return nil
	}
	if _, err := c.Response().Write(resp.Content); err != nil {
		h.logger.Debug("writing response body",
			"err", err,
			"request_id", pr.RequestID,
		)
	}
	return nil
}

func (h *ProxyHandler) buildRequest(c echo.Context) (*model.ProxyRequest, error) {
	req := c.Request()

	header := req.Header.Clone()
	host := header.Get(HeaderProxyHost)
	header.Del(HeaderProxyHost)
	if host == "" {
		host = req.Host
	}

	pr := &model.ProxyRequest{
		Method:      req.Method,
		Path:        targetPath(req),
		Host:        host,
		Header:      header,
		QueryString: req.URL.RawQuery,
		ClientIP:    c.RealIP(),
		UseHTTPS:    c.Scheme() == "https",
		RequestID:   c.Response().Header().Get(echo.HeaderXRequestID),
	}

	switch pr.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		body, err := io.ReadAll(req.Body)
		if err != nil {
			var he *echo.HTTPError
			if errors.As(err, &he) {
				return nil, he
			}
			return nil, echo.NewHTTPError(http.StatusBadRequest, "cannot read request body").SetInternal(err)
		}
		pr.Body = body
	}

	// An absolute target in the path carries its own query.
	if strings.HasPrefix(pr.Path, "http://") || strings.HasPrefix(pr.Path, "https://") {
		if pr.QueryString != "" {
			pr.Path += "?" + pr.QueryString
		}
	}

	return pr, nil
}

// targetPath returns the part of the escaped request path after ProxyPrefix,
// either an absolute URL or a path starting with "/".
func targetPath(req *http.Request) string {
	rest := strings.TrimPrefix(req.URL.EscapedPath(), ProxyPrefix)
	rest = strings.TrimPrefix(rest, "/")
	if strings.HasPrefix(rest, "http://") || strings.HasPrefix(rest, "https://") {
		return rest
	}
	return "/" + rest
}

func (h *ProxyHandler) mapError(c echo.Context, pr *model.ProxyRequest, err error) error {
	status := http.StatusBadGateway
	switch {
	case errors.Is(err, service.ErrConfiguration):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrGatewayTimeout):
		status = http.StatusGatewayTimeout
	}

	body := map[string]string{"error": "upstream request failed"}
	var perr *service.ProxyError
	if errors.As(err, &perr) {
		body["error"] = perr.Message
		body["target_url"] = perr.TargetURL
	}

	h.logger.Debug("proxy error",
		"status", status,
		"err", err,
		"request_id", pr.RequestID,
	)
	return c.JSON(status, body)
}
