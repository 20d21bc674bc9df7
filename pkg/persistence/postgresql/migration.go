package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Create workflow_executions table
			CREATE TABLE workflow_executions (
				id VARCHAR(255) PRIMARY KEY,
				workflow_name VARCHAR(255) NOT NULL,
				parent_execution_id VARCHAR(255),
				correlation_id VARCHAR(255),
				idempotency_key VARCHAR(255),
				status VARCHAR(32) NOT NULL CHECK (status IN (
					'RUNNING', 'COMPLETED', 'FAILED', 'COMPENSATED',
					'PAUSED', 'CANCELLED', 'TIMEOUT', 'CLEANED_UP'
				)),
				input_data JSONB,
				output_data JSONB,
				context_data JSONB,
				error_message TEXT,
				error_type VARCHAR(255),
				retry_count INT NOT NULL DEFAULT 0,
				max_retries INT NOT NULL DEFAULT 0,
				timeout_seconds INT NOT NULL DEFAULT 0,
				result_id VARCHAR(255),
				result_payload JSONB,
				expires_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE,
				deleted_at TIMESTAMP WITH TIME ZONE,
				version BIGINT NOT NULL DEFAULT 1
			);

			-- One live execution per (idempotency key, workflow name)
			CREATE UNIQUE INDEX uq_workflow_executions_idempotency
				ON workflow_executions(idempotency_key, workflow_name)
				WHERE idempotency_key IS NOT NULL AND deleted_at IS NULL;

			CREATE INDEX idx_workflow_executions_workflow_name ON workflow_executions(workflow_name);
			CREATE INDEX idx_workflow_executions_status ON workflow_executions(status);
			CREATE INDEX idx_workflow_executions_correlation_id ON workflow_executions(correlation_id);
			CREATE INDEX idx_workflow_executions_parent_execution_id ON workflow_executions(parent_execution_id);
			CREATE INDEX idx_workflow_executions_created_at ON workflow_executions(created_at);
			CREATE INDEX idx_workflow_executions_deleted_at ON workflow_executions(deleted_at);

			-- Create workflow_step_events table (one row per step per execution)
			CREATE TABLE workflow_step_events (
				id BIGSERIAL PRIMARY KEY,
				execution_id VARCHAR(255) NOT NULL REFERENCES workflow_executions(id) ON DELETE CASCADE,
				workflow_name VARCHAR(255) NOT NULL,
				step_name VARCHAR(255) NOT NULL,
				step_index INT NOT NULL,
				total_steps INT NOT NULL DEFAULT 0,
				status VARCHAR(32) NOT NULL CHECK (status IN ('RUNNING', 'COMPLETED', 'FAILED')),
				input_data JSONB,
				output_data JSONB,
				compensation_data JSONB,
				error_message TEXT,
				error_type VARCHAR(255),
				duration_ms BIGINT NOT NULL DEFAULT 0,
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE,
				UNIQUE (execution_id, step_index)
			);

			CREATE INDEX idx_workflow_step_events_execution_id ON workflow_step_events(execution_id);
			CREATE INDEX idx_workflow_step_events_status ON workflow_step_events(status);
		`,
	}
}
