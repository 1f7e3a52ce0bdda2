// Package scheduler runs periodic jobs on cron schedules (github.com/robfig/cron/v3) or
// fixed tickers.
//
// Each job may carry RetryOptions. A run then goes through a backoff.Handler: failures are
// retried under the job's strategy inside the same run, and JobOptions.Timeout bounds the
// run together with its waits. Overlap policies, hooks, panic recovery and graceful
// shutdown apply to the run as a whole.
//
//	s := scheduler.New(scheduler.Config{Logger: log})
//	_, err := s.AddCronJobWithOptions("@every 30s", probe, scheduler.JobOptions{
//		Name:          "probe",
//		Timeout:       20 * time.Second,
//		OverlapPolicy: scheduler.SkipIfRunning,
//		Retry: &scheduler.RetryOptions{
//			Strategy:      backoff.DefaultExponential(),
//			IsRecoverable: classify.Default(),
//			NewLogger:     func(name string) backoff.Logger { return j.Run(name) },
//		},
//	})
//	s.Start()
//	defer s.Stop()
//
// RunOnce executes a job synchronously with the same wrapping, without starting the
// scheduler.
package scheduler
