package protocol

import "testing"

func TestHasPriority(t *testing.T) {
	cases := []struct {
		name                       string
		theirTime, myTime          uint64
		theirRank, myRank          int
		want                       bool
	}{
		{"smaller timestamp wins", 3, 5, 0, 1, true},
		{"larger timestamp loses", 7, 5, 0, 1, false},
		{"tie broken by smaller rank, sender wins", 5, 5, 0, 1, true},
		{"tie broken by smaller rank, sender loses", 5, 5, 2, 1, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := hasPriority(c.theirTime, c.myTime, c.theirRank, c.myRank)
			if got != c.want {
				t.Errorf("hasPriority(%d,%d,%d,%d) = %v, want %v",
					c.theirTime, c.myTime, c.theirRank, c.myRank, got, c.want)
			}
		})
	}
}
