package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEpisodeRoundTrip(t *testing.T) {
	st := testStore(t)

	rec := &EpisodeRecord{
		ID:      "ep-1",
		UserID:  "alice",
		Summary: "Discussed the quarterly budget with the finance team",
		Episode: "Long form narrative of the meeting",
		Subject: "budget",
	}
	require.NoError(t, st.UpsertEpisode(rec))

	episodes, err := st.GetEpisodes("alice", 10, 0)
	require.NoError(t, err)
	require.Len(t, episodes, 1)
	assert.Equal(t, "ep-1", episodes[0].ID)
	assert.Equal(t, "budget", episodes[0].Subject)
	assert.NotEmpty(t, episodes[0].Timestamp)

	// Other users see nothing.
	episodes, err = st.GetEpisodes("bob", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, episodes)
}

func TestDeleteEpisode(t *testing.T) {
	st := testStore(t)
	require.NoError(t, st.UpsertEpisode(&EpisodeRecord{ID: "ep-1", UserID: "alice", Summary: "something"}))
	require.NoError(t, st.DeleteEpisode("ep-1"))

	episodes, err := st.GetEpisodes("alice", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, episodes)
}

func TestEventLogAndForesight(t *testing.T) {
	st := testStore(t)

	require.NoError(t, st.UpsertEventLog(&EventLogRecord{
		ID: "ev-1", UserID: "alice", AtomicFact: "Alice prefers morning meetings", ParentEpisodeID: "ep-1",
	}))
	require.NoError(t, st.UpsertForesight(&ForesightRecord{
		ID: "fs-1", UserID: "alice", Content: "Alice will travel to Berlin next month", Evidence: "mentioned flight booking",
	}))

	events, err := st.GetEventLogs("alice", 10, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "ep-1", events[0].ParentEpisodeID)

	foresights, err := st.GetForesights("alice", 10)
	require.NoError(t, err)
	require.Len(t, foresights, 1)
	assert.Equal(t, "mentioned flight booking", foresights[0].Evidence)
}

func TestProfileUpsertMerges(t *testing.T) {
	st := testStore(t)

	require.NoError(t, st.UpsertProfile(&ProfileRecord{
		UserID:    "alice",
		UserName:  "Alice",
		Interests: []string{"climbing"},
	}))
	require.NoError(t, st.UpsertProfile(&ProfileRecord{
		UserID:      "alice",
		Personality: []string{"curious"},
	}))

	profile, err := st.GetProfile("alice")
	require.NoError(t, err)
	require.NotNil(t, profile)
	assert.Equal(t, "Alice", profile.UserName)
	assert.Equal(t, []string{"climbing"}, profile.Interests)
	assert.Equal(t, []string{"curious"}, profile.Personality)
}

func TestCountMemories(t *testing.T) {
	st := testStore(t)
	require.NoError(t, st.UpsertEpisode(&EpisodeRecord{ID: "ep-1", UserID: "alice", Summary: "a"}))
	require.NoError(t, st.UpsertEpisode(&EpisodeRecord{ID: "ep-2", UserID: "alice", Summary: "b"}))
	require.NoError(t, st.UpsertEventLog(&EventLogRecord{ID: "ev-1", UserID: "alice", AtomicFact: "c"}))

	episodes, eventLogs, foresights, err := st.CountMemories("alice")
	require.NoError(t, err)
	assert.Equal(t, 2, episodes)
	assert.Equal(t, 1, eventLogs)
	assert.Equal(t, 0, foresights)
}

func TestSearchMemories(t *testing.T) {
	st := testStore(t)
	require.NoError(t, st.UpsertEpisode(&EpisodeRecord{
		ID: "ep-1", UserID: "alice", Summary: "Planned the Berlin conference trip",
	}))
	require.NoError(t, st.UpsertEventLog(&EventLogRecord{
		ID: "ev-1", UserID: "alice", AtomicFact: "Alice books flights through the travel portal",
	}))
	require.NoError(t, st.UpsertEpisode(&EpisodeRecord{
		ID: "ep-2", UserID: "bob", Summary: "Berlin vacation photos",
	}))

	hits, err := st.SearchMemories("alice", "Berlin", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "ep-1", hits[0].MemoryID)
	assert.Equal(t, "episode", hits[0].MemoryType)
	assert.Greater(t, hits[0].Score, 0.0)
}

func TestUpsertMemoryRefreshesFTS(t *testing.T) {
	st := testStore(t)
	require.NoError(t, st.UpsertEpisode(&EpisodeRecord{ID: "ep-1", UserID: "alice", Summary: "first topic"}))
	require.NoError(t, st.UpsertEpisode(&EpisodeRecord{ID: "ep-1", UserID: "alice", Summary: "replacement topic"}))

	hits, err := st.SearchMemories("alice", "first", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)

	hits, err = st.SearchMemories("alice", "replacement", 10)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}
