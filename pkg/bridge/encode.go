package bridge

import (
	"github.com/harun/passivebridge/pkg/events"
	"github.com/harun/passivebridge/pkg/result"
)

func encodeServerStatus(s events.ServerStatus) result.Payload {
	return result.Text(s.String())
}

func encodeSourceStatus(s events.SourceStatus) result.Payload {
	return sourceStatusRecord(s)
}

func sourceStatusRecord(s events.SourceStatus) result.Record {
	rec := result.Record{
		"plugin": s.Plugin,
		"status": s.State.String(),
	}
	if s.SourceName != nil {
		rec["sourceName"] = *s.SourceName
	}
	return rec
}

func encodeSourceStatuses(statuses map[string]events.SourceStatus) result.Payload {
	rec := make(result.Record, len(statuses))
	for name, s := range statuses {
		rec[name] = sourceStatusRecord(s)
	}
	return rec
}

func encodeSendStatus(s events.SendStatus) result.Payload {
	if !s.Success {
		return result.Record{"topic": s.Topic, "status": "ERROR"}
	}
	return result.Record{
		"topic":               s.Topic,
		"status":              "SUCCESS",
		"numberOfRecordsSent": s.NumberOfRecords,
	}
}

func encodeFlushResult(r FlushResult) result.Payload {
	switch v := r.(type) {
	case FlushProgress:
		return result.Record{"type": "progress", "current": v.Current, "total": v.Total}
	case FlushSuccess:
		return result.Record{"type": "success"}
	}
	return nil
}

func encodeStrings(values []string) result.Payload {
	return result.Strings(values)
}

func encodeEmpty(struct{}) result.Payload {
	return result.Empty{}
}

func encodeCounts(counts map[string]int64) result.Payload {
	rec := make(result.Record, len(counts))
	for k, v := range counts {
		rec[k] = v
	}
	return rec
}

func encodeStringLists(lists map[string][]string) result.Payload {
	rec := make(result.Record, len(lists))
	for k, v := range lists {
		rec[k] = v
	}
	return rec
}
