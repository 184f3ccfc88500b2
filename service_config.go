/*
 *
 * Copyright 2017 gRPC authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

package grpccore

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/chalvern/grpccore/codes"
	"github.com/chalvern/grpccore/grpclog"
)

const maxInt = int(^uint(0) >> 1)

// RetryPolicy configures automatic retry of a method, per spec §3's RetryPolicy
// entity. Adapted from service_config.go's MethodConfig shape, generalized
// with the retry fields grpc-go's real service_config.go carries alongside
// this teacher slice's older MethodConfig.
type RetryPolicy struct {
	MaxAttempts          int
	InitialBackoff       time.Duration
	MaxBackoff           time.Duration
	BackoffMultiplier    float64
	RetryableStatusCodes map[codes.Code]bool
}

// validate enforces spec §3 invariant: "MaxAttempts >= 2, all backoff/
// multiplier fields are positive, retryable_status_codes is non-empty".
func (p *RetryPolicy) validate() error {
	if p == nil {
		return nil
	}
	if p.MaxAttempts < 2 {
		return fmt.Errorf("grpccore: retry policy MaxAttempts must be >= 2, got %d", p.MaxAttempts)
	}
	if p.InitialBackoff <= 0 || p.MaxBackoff <= 0 {
		return fmt.Errorf("grpccore: retry policy backoff durations must be positive")
	}
	if p.BackoffMultiplier <= 0 {
		return fmt.Errorf("grpccore: retry policy BackoffMultiplier must be positive")
	}
	if len(p.RetryableStatusCodes) == 0 {
		return fmt.Errorf("grpccore: retry policy must name at least one retryable status code")
	}
	return nil
}

// HedgingPolicy configures speculative concurrent attempts for a method, per
// spec §3's HedgingPolicy entity.
type HedgingPolicy struct {
	MaxAttempts         int
	HedgingDelay        time.Duration
	NonFatalStatusCodes map[codes.Code]bool
}

func (p *HedgingPolicy) validate() error {
	if p == nil {
		return nil
	}
	if p.MaxAttempts < 2 {
		return fmt.Errorf("grpccore: hedging policy MaxAttempts must be >= 2, got %d", p.MaxAttempts)
	}
	if p.HedgingDelay < 0 {
		return fmt.Errorf("grpccore: hedging policy HedgingDelay must not be negative")
	}
	return nil
}

// MethodConfig defines the configuration recommended by the service provider
// for a particular method: timeouts, message size caps, and at most one of
// RetryPolicy or HedgingPolicy (spec §3: "a method config may carry a retry
// policy or a hedging policy but never both").
type MethodConfig struct {
	// WaitForReady is parsed from the service config's waitForReady field;
	// the call path does not read it.
	WaitForReady *bool
	// Timeout is the default deadline budget for calls to this method. The
	// effective deadline is the minimum of this and any deadline set via
	// CallOptions.
	Timeout *time.Duration
	// MaxReqSize/MaxRespSize are parsed from the service config; the call
	// path does not enforce them and only applies the channel's MaxSendSize/
	// MaxReceiveSize.
	MaxReqSize  *int
	MaxRespSize *int

	// RetryPolicy and HedgingPolicy are mutually exclusive; at most one may
	// be set.
	RetryPolicy   *RetryPolicy
	HedgingPolicy *HedgingPolicy
}

// validate enforces the RetryPolicy/HedgingPolicy exclusivity invariant and
// the validity of whichever one is set.
func (m *MethodConfig) validate() error {
	if m.RetryPolicy != nil && m.HedgingPolicy != nil {
		return fmt.Errorf("grpccore: method config may not set both RetryPolicy and HedgingPolicy")
	}
	if err := m.RetryPolicy.validate(); err != nil {
		return err
	}
	if err := m.HedgingPolicy.validate(); err != nil {
		return err
	}
	return nil
}

// ServiceConfig is provided by the service owner and describes how clients
// connecting to it should behave by default.
type ServiceConfig struct {
	// Methods maps "/service/method" (or the service-wide default
	// "/service/") to its MethodConfig.
	Methods map[string]MethodConfig
}

// lookupMethodConfig returns the most specific MethodConfig for fullMethod
// ("/service/method"), falling back to the service-wide default
// ("/service/"), per spec §4.E's method-info construction.
func (sc *ServiceConfig) lookupMethodConfig(fullMethod string) (MethodConfig, bool) {
	if sc == nil {
		return MethodConfig{}, false
	}
	if mc, ok := sc.Methods[fullMethod]; ok {
		return mc, true
	}
	if i := strings.LastIndexByte(fullMethod, '/'); i >= 0 {
		if mc, ok := sc.Methods[fullMethod[:i+1]]; ok {
			return mc, true
		}
	}
	return MethodConfig{}, false
}

// parseDuration parses the protobuf JSON mapping for google.protobuf.Duration
// that service config textproto-as-JSON uses: a plain decimal second count
// with up to nine fractional digits, always suffixed with "s" ("1s", "0.5s",
// "1.000250s"). This is deliberately narrower than time.ParseDuration, which
// would also accept compound strings like "1h2m3s" that never appear on the
// wire here.
func parseDuration(s *string) (*time.Duration, error) {
	if s == nil {
		return nil, nil
	}
	raw := *s
	malformed := func(cause error) (*time.Duration, error) {
		if cause != nil {
			return nil, fmt.Errorf("malformed duration %q: %v", raw, cause)
		}
		return nil, fmt.Errorf("malformed duration %q", raw)
	}
	whole, hasSuffix := strings.CutSuffix(raw, "s")
	if !hasSuffix {
		return malformed(nil)
	}

	secs, fracDigits, hasFrac := strings.Cut(whole, ".")
	if hasFrac && strings.Contains(fracDigits, ".") {
		return malformed(nil) // more than one '.'
	}

	var total time.Duration
	switch {
	case len(secs) > 0:
		n, err := strconv.ParseInt(secs, 10, 32)
		if err != nil {
			return malformed(err)
		}
		total = time.Duration(n) * time.Second
	case !hasFrac || len(fracDigits) == 0:
		// Neither a whole-second count nor a fractional part: nothing to
		// parse, so this isn't a valid duration at all.
		return malformed(nil)
	}

	if hasFrac && len(fracDigits) > 0 {
		if len(fracDigits) > 9 {
			return malformed(nil)
		}
		n, err := strconv.ParseInt(fracDigits, 10, 64)
		if err != nil {
			return malformed(err)
		}
		total += time.Duration(n * pow10(9-len(fracDigits)))
	}
	return &total, nil
}

func pow10(n int) int64 {
	v := int64(1)
	for ; n > 0; n-- {
		v *= 10
	}
	return v
}

type jsonName struct {
	Service *string
	Method  *string
}

func (j jsonName) generatePath() (string, bool) {
	if j.Service == nil {
		return "", false
	}
	res := "/" + *j.Service + "/"
	if j.Method != nil {
		res += *j.Method
	}
	return res, true
}

type jsonRetryPolicy struct {
	MaxAttempts          *int
	InitialBackoff       *string
	MaxBackoff           *string
	BackoffMultiplier    *float64
	RetryableStatusCodes *[]string
}

type jsonHedgingPolicy struct {
	MaxAttempts         *int
	HedgingDelay        *string
	NonFatalStatusCodes *[]string
}

type jsonMC struct {
	Name                    *[]jsonName
	WaitForReady            *bool
	Timeout                 *string
	MaxRequestMessageBytes  *int64
	MaxResponseMessageBytes *int64
	RetryPolicy             *jsonRetryPolicy
	HedgingPolicy           *jsonHedgingPolicy
}

type jsonSC struct {
	MethodConfig *[]jsonMC
}

// parseServiceConfig decodes a JSON service config document, validating
// every RetryPolicy/HedgingPolicy it finds.
func parseServiceConfig(js string) (ServiceConfig, error) {
	var rsc jsonSC
	if err := json.Unmarshal([]byte(js), &rsc); err != nil {
		grpclog.NewDefault().Warningf("grpccore: parseServiceConfig error unmarshaling %s due to %v", js, err)
		return ServiceConfig{}, err
	}
	sc := ServiceConfig{Methods: make(map[string]MethodConfig)}
	if rsc.MethodConfig == nil {
		return sc, nil
	}

	for _, m := range *rsc.MethodConfig {
		if m.Name == nil {
			continue
		}
		d, err := parseDuration(m.Timeout)
		if err != nil {
			return ServiceConfig{}, err
		}

		mc := MethodConfig{WaitForReady: m.WaitForReady, Timeout: d}
		if m.MaxRequestMessageBytes != nil {
			mc.MaxReqSize = clampInt(*m.MaxRequestMessageBytes)
		}
		if m.MaxResponseMessageBytes != nil {
			mc.MaxRespSize = clampInt(*m.MaxResponseMessageBytes)
		}
		if m.RetryPolicy != nil {
			rp, err := parseRetryPolicy(m.RetryPolicy)
			if err != nil {
				return ServiceConfig{}, err
			}
			mc.RetryPolicy = rp
		}
		if m.HedgingPolicy != nil {
			hp, err := parseHedgingPolicy(m.HedgingPolicy)
			if err != nil {
				return ServiceConfig{}, err
			}
			mc.HedgingPolicy = hp
		}
		if err := mc.validate(); err != nil {
			return ServiceConfig{}, err
		}

		for _, n := range *m.Name {
			if path, valid := n.generatePath(); valid {
				sc.Methods[path] = mc
			}
		}
	}

	return sc, nil
}

func parseRetryPolicy(j *jsonRetryPolicy) (*RetryPolicy, error) {
	rp := &RetryPolicy{RetryableStatusCodes: map[codes.Code]bool{}}
	if j.MaxAttempts != nil {
		rp.MaxAttempts = *j.MaxAttempts
	}
	if d, err := parseDuration(j.InitialBackoff); err != nil {
		return nil, err
	} else if d != nil {
		rp.InitialBackoff = *d
	}
	if d, err := parseDuration(j.MaxBackoff); err != nil {
		return nil, err
	} else if d != nil {
		rp.MaxBackoff = *d
	}
	if j.BackoffMultiplier != nil {
		rp.BackoffMultiplier = *j.BackoffMultiplier
	}
	if j.RetryableStatusCodes != nil {
		for _, name := range *j.RetryableStatusCodes {
			c, err := parseCodeName(name)
			if err != nil {
				return nil, err
			}
			rp.RetryableStatusCodes[c] = true
		}
	}
	return rp, nil
}

func parseHedgingPolicy(j *jsonHedgingPolicy) (*HedgingPolicy, error) {
	hp := &HedgingPolicy{NonFatalStatusCodes: map[codes.Code]bool{}}
	if j.MaxAttempts != nil {
		hp.MaxAttempts = *j.MaxAttempts
	}
	if d, err := parseDuration(j.HedgingDelay); err != nil {
		return nil, err
	} else if d != nil {
		hp.HedgingDelay = *d
	}
	if j.NonFatalStatusCodes != nil {
		for _, name := range *j.NonFatalStatusCodes {
			c, err := parseCodeName(name)
			if err != nil {
				return nil, err
			}
			hp.NonFatalStatusCodes[c] = true
		}
	}
	return hp, nil
}

var codeNamesToValue = func() map[string]codes.Code {
	m := make(map[string]codes.Code, 17)
	for c := codes.OK; c <= codes.Unauthenticated; c++ {
		m[strings.ToUpper(c.String())] = c
	}
	return m
}()

func parseCodeName(name string) (codes.Code, error) {
	// Service configs spell codes in UPPER_SNAKE_CASE ("DEADLINE_EXCEEDED");
	// codeNamesToValue is keyed by the underscore-free upper-cased name.
	c, ok := codeNamesToValue[strings.ToUpper(strings.ReplaceAll(name, "_", ""))]
	if !ok {
		return 0, fmt.Errorf("grpccore: unknown status code name %q in service config", name)
	}
	return c, nil
}

func clampInt(v int64) *int {
	if v > int64(maxInt) {
		return newInt(maxInt)
	}
	return newInt(int(v))
}

func minInt(a, b *int) *int {
	if *a < *b {
		return a
	}
	return b
}

func getMaxSize(mcMax, optMax *int, defaultVal int) *int {
	if mcMax == nil && optMax == nil {
		return &defaultVal
	}
	if mcMax != nil && optMax != nil {
		return minInt(mcMax, optMax)
	}
	if mcMax != nil {
		return mcMax
	}
	return optMax
}

func newInt(b int) *int {
	return &b
}
