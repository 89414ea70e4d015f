package hardware

// MinParallelJobs is the lower bound of the native build parallelism.
const MinParallelJobs = 4

// ParallelJobs returns 75% of cores with a floor of MinParallelJobs.
func ParallelJobs(cores int) int {
	jobs := cores * 3 / 4
	if jobs < MinParallelJobs {
		return MinParallelJobs
	}
	return jobs
}
