package aws

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

const (
	// maxMetricDataQueries is the maximum number of metric queries per GetMetricData call.
	maxMetricDataQueries = 500
	// S3 storage metrics are published once a day.
	storageMetricPeriodSeconds = 86400
	storageLookback            = 3 * 24 * time.Hour
)

// CloudWatchAPI is the minimal interface for CloudWatch operations needed by the size fetcher.
type CloudWatchAPI interface {
	GetMetricData(ctx context.Context, input *cloudwatch.GetMetricDataInput, opts ...func(*cloudwatch.Options)) (*cloudwatch.GetMetricDataOutput, error)
}

// BucketSizeFetcher reads the daily AWS/S3 BucketSizeBytes metric. S3 publishes
// storage metrics in the bucket's own region, so a client is requested per region.
type BucketSizeFetcher struct {
	clientFor func(region string) CloudWatchAPI
	now       func() time.Time
}

// NewBucketSizeFetcher creates a fetcher that obtains a CloudWatch client per region.
func NewBucketSizeFetcher(clientFor func(region string) CloudWatchAPI) *BucketSizeFetcher {
	return &BucketSizeFetcher{clientFor: clientFor, now: time.Now}
}

// FetchSizes returns the latest standard-storage size in bytes for each bucket,
// keyed by bucket name. byRegion maps a region to the buckets located there.
// Buckets without a published datapoint are absent from the result.
func (f *BucketSizeFetcher) FetchSizes(ctx context.Context, byRegion map[string][]string) (map[string]float64, error) {
	regions := make([]string, 0, len(byRegion))
	for r := range byRegion {
		regions = append(regions, r)
	}
	sort.Strings(regions)

	sizes := make(map[string]float64)
	for _, region := range regions {
		if err := f.fetchRegion(ctx, region, byRegion[region], sizes); err != nil {
			return nil, err
		}
	}
	return sizes, nil
}

func (f *BucketSizeFetcher) fetchRegion(ctx context.Context, region string, buckets []string, into map[string]float64) error {
	if len(buckets) == 0 {
		return nil
	}
	client := f.clientFor(region)
	end := f.now().UTC()
	start := end.Add(-storageLookback)

	batches := batchIDs(buckets, maxMetricDataQueries)
	for batchIdx, batch := range batches {
		slog.Debug("Fetching bucket size metrics", "region", region, "batch", batchIdx+1, "total_batches", len(batches), "count", len(batch))

		queries := make([]cwtypes.MetricDataQuery, 0, len(batch))
		for i, name := range batch {
			queries = append(queries, cwtypes.MetricDataQuery{
				Id: awssdk.String(fmt.Sprintf("m%d", i)),
				MetricStat: &cwtypes.MetricStat{
					Metric: &cwtypes.Metric{
						Namespace:  awssdk.String("AWS/S3"),
						MetricName: awssdk.String("BucketSizeBytes"),
						Dimensions: []cwtypes.Dimension{
							{Name: awssdk.String("BucketName"), Value: awssdk.String(name)},
							{Name: awssdk.String("StorageType"), Value: awssdk.String("StandardStorage")},
						},
					},
					Period: awssdk.Int32(storageMetricPeriodSeconds),
					Stat:   awssdk.String("Average"),
				},
			})
		}

		out, err := client.GetMetricData(ctx, &cloudwatch.GetMetricDataInput{
			MetricDataQueries: queries,
			StartTime:         awssdk.Time(start),
			EndTime:           awssdk.Time(end),
			ScanBy:            cwtypes.ScanByTimestampDescending,
		})
		if err != nil {
			return fmt.Errorf("get bucket size metrics (%s): %w", region, err)
		}

		for _, result := range out.MetricDataResults {
			if result.Id == nil || len(result.Values) == 0 {
				continue
			}
			var idx int
			if _, err := fmt.Sscanf(*result.Id, "m%d", &idx); err != nil || idx >= len(batch) {
				continue
			}
			// newest first
			into[batch[idx]] = result.Values[0]
		}
	}
	return nil
}

// batchIDs splits a slice of IDs into batches of the given size.
func batchIDs(ids []string, batchSize int) [][]string {
	if batchSize <= 0 {
		batchSize = maxMetricDataQueries
	}

	var batches [][]string
	for i := 0; i < len(ids); i += batchSize {
		end := min(i+batchSize, len(ids))
		batches = append(batches, ids[i:end])
	}
	return batches
}
