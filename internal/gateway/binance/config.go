package binance

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://fapi.binance.com"
	defaultTimeout = 10 * time.Second
)

// Config 描述 USDT 合约 REST 接入；ProxyURL 为空时直连。
type Config struct {
	BaseURL  string
	Timeout  time.Duration
	ProxyURL string
}

func (c Config) normalized() Config {
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	c.ProxyURL = strings.TrimSpace(c.ProxyURL)
	return c
}

func (c Config) httpClient() (*http.Client, error) {
	client := &http.Client{Timeout: c.Timeout}
	if c.ProxyURL == "" {
		return client, nil
	}
	proxy, err := url.Parse(c.ProxyURL)
	if err != nil || proxy.Host == "" {
		return nil, fmt.Errorf("invalid proxy url %q", c.ProxyURL)
	}
	base, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		return nil, fmt.Errorf("default transport is %T, cannot attach proxy", http.DefaultTransport)
	}
	transport := base.Clone()
	transport.Proxy = http.ProxyURL(proxy)
	client.Transport = transport
	return client, nil
}
