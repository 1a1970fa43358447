package mount

import (
	"encoding/json"
	"testing"
)

func TestMarshalLayoutRoundTrips(t *testing.T) {
	l := Layout{
		Layout: "multi",
		Partitions: []Partition{
			{Num: 1, Device: "/dev/loop0", Mount: "/mnt/ntt/abc/p1", FSType: "ext4", Status: "mounted"},
			{Num: 2, Device: "/dev/loop0", Mount: "/mnt/ntt/abc/p2", FSType: "vfat", Status: "mounted"},
		},
	}
	data, err := MarshalLayout(l)
	if err != nil {
		t.Fatalf("MarshalLayout: %v", err)
	}
	var got Layout
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Layout != "multi" || len(got.Partitions) != 2 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got.Partitions[1].FSType != "vfat" {
		t.Fatalf("expected second partition fstype vfat, got %q", got.Partitions[1].FSType)
	}
}
