package mongo

import (
	"fmt"
	"sort"

	"go.mongodb.org/mongo-driver/bson"

	"3tcapital/telescope/internal/core/entry"
)

// requestIDPaths are the document paths holding a correlation id.
var requestIDPaths = []string{"request.requestId", "exception.requestId", "data.requestId"}

func buildFilter(opts entry.ListOptions) (bson.D, error) {
	filter := bson.D{}

	if len(opts.Types) > 0 {
		types := make(bson.A, 0, len(opts.Types))
		for _, t := range opts.Types {
			if _, err := entry.ParseType(string(t)); err != nil {
				return nil, err
			}
			types = append(types, string(t))
		}
		filter = append(filter, bson.E{Key: "type", Value: bson.D{{Key: "$in", Value: types}}})
	}

	if opts.RequestID != "" {
		or := make(bson.A, 0, len(requestIDPaths))
		for _, path := range requestIDPaths {
			or = append(or, bson.D{{Key: path, Value: opts.RequestID}})
		}
		filter = append(filter, bson.E{Key: "$or", Value: or})
	}

	if !opts.Start.IsZero() || !opts.End.IsZero() {
		rng := bson.D{}
		if !opts.Start.IsZero() {
			rng = append(rng, bson.E{Key: "$gte", Value: opts.Start.UTC()})
		}
		if !opts.End.IsZero() {
			rng = append(rng, bson.E{Key: "$lte", Value: opts.End.UTC()})
		}
		filter = append(filter, bson.E{Key: "timestamp", Value: rng})
	}

	fields := make([]entry.Field, 0, len(opts.Filters))
	for f := range opts.Filters {
		fields = append(fields, f)
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i] < fields[j] })

	for _, f := range fields {
		if _, err := entry.ParseField(string(f)); err != nil {
			return nil, err
		}
		value := opts.Filters[f]
		if f.Numeric() {
			n, err := f.IntValue(value)
			if err != nil {
				return nil, err
			}
			filter = append(filter, bson.E{Key: string(f), Value: n})
			continue
		}
		filter = append(filter, bson.E{Key: string(f), Value: value})
	}

	return filter, nil
}

func sortOrder(o entry.SortOrder) bson.D {
	dir := -1
	if o == entry.SortAsc {
		dir = 1
	}
	return bson.D{{Key: "timestamp", Value: dir}, {Key: "_id", Value: dir}}
}

func recentFilter(t entry.Type) (bson.D, error) {
	if t == "" {
		return bson.D{}, nil
	}
	if _, err := entry.ParseType(string(t)); err != nil {
		return nil, fmt.Errorf("recent entries: %w", err)
	}
	return bson.D{{Key: "type", Value: string(t)}}, nil
}
