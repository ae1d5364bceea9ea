// Package scheduler runs background tasks in-process and keeps the
// telemetry ingest task alive.
//
// Runner tracks each task by id through PENDING, STARTED and a terminal
// SUCCESS, FAILURE or REVOKED. Unknown ids report NOTEXIST. Every task has a
// soft limit, where its context is cancelled, and a hard limit, where it is
// marked FAILURE regardless.
//
// Supervisor is the periodic beat: it reads the stored task id and relaunches
// the task when its status is NOTEXIST, FAILURE or REVOKED, storing the new id.
//
//	runner := scheduler.NewRunner()
//	sup := scheduler.NewSupervisor(runner, projects, errorLog, scheduler.SupervisorConfig{
//	    TaskName: "sensor_task",
//	    Task:     ingest,
//	    Interval: 30 * time.Second,
//	})
//	runner.OnTaskDone(sup.RecordTaskFailure)
//	go sup.Run(ctx)
package scheduler
