package storage

import (
	"fmt"
	"time"
)

// Top-level key prefixes swept by retention.
const (
	PrefixRawNews   = "news/raw"
	PrefixClustered = "news/clustered"
	PrefixMarket    = "market"
	PrefixLogs      = "logs"
)

// RetentionPrefixes lists every prefix the sweeper scans, in scan order.
var RetentionPrefixes = []string{PrefixRawNews, PrefixClustered, PrefixMarket, PrefixLogs}

// NewsKey is news/raw/{source}/{yyyymmdd}/{id}.json.
func NewsKey(source string, fetchedAt time.Time, id string) string {
	return fmt.Sprintf("%s/%s/%s/%s.json", PrefixRawNews, source, fetchedAt.UTC().Format("20060102"), id)
}

// ClusterKey is news/clustered/{yyyymmdd}/{clusterId}.json.
func ClusterKey(firstSeen time.Time, clusterID string) string {
	return fmt.Sprintf("%s/%s/%s.json", PrefixClustered, firstSeen.UTC().Format("20060102"), clusterID)
}

// MarketKey is market/{exchange}/{symbol}/{yyyymmddhh}/snapshot.json.
func MarketKey(exchange, symbol string, fetchedAt time.Time) string {
	return fmt.Sprintf("%s/%s/%s/%s/snapshot.json", PrefixMarket, exchange, symbol, fetchedAt.UTC().Format("2006010215"))
}
