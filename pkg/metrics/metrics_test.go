package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNew_RegistersIndependently(t *testing.T) {
	reg1 := prometheus.NewRegistry()
	reg2 := prometheus.NewRegistry()

	p1 := New(reg1)
	_ = New(reg2)

	p1.ChunksTotal.Add(3)

	mf, err := reg1.Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}
	found := false
	for _, f := range mf {
		if f.GetName() == "docpipe_chunker_chunks_total" {
			found = true
			if len(f.Metric) != 1 || f.Metric[0].GetCounter().GetValue() != 3 {
				t.Errorf("expected counter value 3, got %+v", f.Metric)
			}
		}
	}
	if !found {
		t.Fatal("expected docpipe_chunker_chunks_total metric to be registered")
	}
}

func TestNew_OutcomeLabels(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := New(reg)
	p.PagesCrawledTotal.WithLabelValues("ok").Inc()
	p.PagesCrawledTotal.WithLabelValues("failed").Inc()
	p.PagesCrawledTotal.WithLabelValues("failed").Inc()

	var m dto.Metric
	if err := p.PagesCrawledTotal.WithLabelValues("failed").Write(&m); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if m.GetCounter().GetValue() != 2 {
		t.Errorf("expected 2 failed pages, got %v", m.GetCounter().GetValue())
	}
}
