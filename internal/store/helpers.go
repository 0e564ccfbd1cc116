package store

import (
	"sort"

	"github.com/RezaEskandarii/firequeue/internal/state"
	"github.com/RezaEskandarii/firequeue/types"
)

// SortJobs orders jobs oldest first, breaking created_at ties by id.
func SortJobs(jobs []types.Job) {
	sort.SliceStable(jobs, func(i, k int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[k].CreatedAt) {
			return jobs[i].CreatedAt.Before(jobs[k].CreatedAt)
		}
		return jobs[i].ID < jobs[k].ID
	})
}

// ApplyPatch returns job with patch applied.
func ApplyPatch(job types.Job, patch types.JobPatch) types.Job {
	if patch.Status != nil {
		job.Status = *patch.Status
	}
	if patch.AttemptsRemaining != nil {
		job.AttemptsRemaining = *patch.AttemptsRemaining
	}
	if patch.AppendError != nil {
		job.Errors = append(job.Errors, *patch.AppendError)
	}
	return job
}

// ZeroCounts returns a count map holding every known status.
func ZeroCounts() map[state.JobStatus]int {
	result := make(map[state.JobStatus]int, len(state.AllStatuses))
	for _, status := range state.AllStatuses {
		result[status] = 0
	}
	return result
}
