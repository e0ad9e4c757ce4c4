package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
)

// MethodCacheability defines how a method should be cached
type MethodCacheability int

const (
	// NotCacheable - method should never be cached
	NotCacheable MethodCacheability = iota
	// AlwaysCacheable - result is immutable once it exists
	AlwaysCacheable
	// CacheableWithBlockNumber - cacheable only when the block parameter is a concrete number
	CacheableWithBlockNumber
)

// methodRule describes a method's cacheability and the index of its block parameter
type methodRule struct {
	cacheability MethodCacheability
	blockParam   int
}

// methodRules covers the calls a token transfer makes
var methodRules = map[string]methodRule{
	"eth_chainId":               {AlwaysCacheable, -1},
	"net_version":               {AlwaysCacheable, -1},
	"eth_getTransactionReceipt": {AlwaysCacheable, -1},
	"eth_getTransactionByHash":  {AlwaysCacheable, -1},
	"eth_getBlockByHash":        {AlwaysCacheable, -1},

	"eth_getBlockByNumber":    {CacheableWithBlockNumber, 0},
	"eth_getBalance":          {CacheableWithBlockNumber, 1},
	"eth_getTransactionCount": {CacheableWithBlockNumber, 1},
	"eth_getCode":             {CacheableWithBlockNumber, 1},
	"eth_call":                {CacheableWithBlockNumber, 1},
	"eth_getStorageAt":        {CacheableWithBlockNumber, 2},
}

// dynamicBlockTags indicate data that moves with the chain head
var dynamicBlockTags = map[string]bool{
	"latest":    true,
	"pending":   true,
	"earliest":  true,
	"safe":      true,
	"finalized": true,
}

// Policy decides which JSON-RPC calls may be served from the cache
type Policy struct {
	disabled map[string]bool
}

// NewPolicy creates a policy; methods listed in disabled are never cached
func NewPolicy(disabled []string) *Policy {
	p := &Policy{disabled: make(map[string]bool, len(disabled))}
	for _, m := range disabled {
		p.disabled[m] = true
	}
	return p
}

// IsCacheable checks if a request is cacheable based on method and params
func (p *Policy) IsCacheable(method string, params json.RawMessage) bool {
	if p != nil && p.disabled[method] {
		return false
	}

	rule, exists := methodRules[method]
	if !exists {
		return false
	}

	switch rule.cacheability {
	case AlwaysCacheable:
		return true
	case CacheableWithBlockNumber:
		return !hasDynamicBlockParam(params, rule.blockParam)
	default:
		return false
	}
}

// hasDynamicBlockParam reports whether the block parameter at idx is a tag,
// missing (defaults to latest) or unparseable
func hasDynamicBlockParam(params json.RawMessage, idx int) bool {
	if len(params) == 0 {
		return true
	}

	var paramsArray []json.RawMessage
	if err := json.Unmarshal(params, &paramsArray); err != nil {
		return true
	}
	if idx < 0 || idx >= len(paramsArray) {
		return true
	}

	var tag string
	if err := json.Unmarshal(paramsArray[idx], &tag); err != nil {
		// Block object form: {"blockNumber": "0x..."} or {"blockHash": "0x..."}
		var obj map[string]interface{}
		if err := json.Unmarshal(paramsArray[idx], &obj); err != nil {
			return true
		}
		if num, ok := obj["blockNumber"].(string); ok {
			return dynamicBlockTags[strings.ToLower(num)]
		}
		_, hasHash := obj["blockHash"]
		return !hasHash
	}

	return tag == "" || dynamicBlockTags[strings.ToLower(tag)]
}

// GenerateCacheKey creates a unique cache key for a request
func GenerateCacheKey(scope, method string, params json.RawMessage) string {
	hash := sha256.Sum256(normalizeParams(params))
	return scope + ":" + method + ":" + hex.EncodeToString(hash[:8])
}

// normalizeParams re-encodes params with sorted keys and lowercased strings
// so equivalent hex addresses and hashes share a key
func normalizeParams(params json.RawMessage) []byte {
	if len(params) == 0 {
		return []byte("[]")
	}

	var data interface{}
	if err := json.Unmarshal(params, &data); err != nil {
		return params
	}

	result, err := json.Marshal(normalizeValue(data))
	if err != nil {
		return params
	}
	return result
}

// normalizeValue recursively normalizes a JSON value
func normalizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		result := make(map[string]interface{}, len(val))
		for _, k := range keys {
			result[k] = normalizeValue(val[k])
		}
		return result
	case []interface{}:
		result := make([]interface{}, len(val))
		for i, item := range val {
			result[i] = normalizeValue(item)
		}
		return result
	case string:
		return strings.ToLower(val)
	default:
		return val
	}
}
