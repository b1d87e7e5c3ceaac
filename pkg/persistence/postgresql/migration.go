package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Workflow definitions and executions
			CREATE TABLE workflows (
				id VARCHAR(255) PRIMARY KEY,
				tenant_id VARCHAR(255) NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('draft', 'published', 'archived')),
				data JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX idx_workflows_tenant_id ON workflows(tenant_id);
			CREATE INDEX idx_workflows_status ON workflows(status);

			CREATE TABLE executions (
				id VARCHAR(255) PRIMARY KEY,
				tenant_id VARCHAR(255) NOT NULL,
				workflow_id VARCHAR(255) NOT NULL,
				status VARCHAR(50) NOT NULL,
				revision BIGINT NOT NULL DEFAULT 0,
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				data JSONB NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX idx_executions_tenant_id ON executions(tenant_id);
			CREATE INDEX idx_executions_workflow_id ON executions(workflow_id);
			CREATE INDEX idx_executions_status ON executions(status);

			-- One authoritative row per (execution, step); retries update it in place
			CREATE TABLE step_executions (
				execution_id VARCHAR(255) NOT NULL,
				step_id VARCHAR(255) NOT NULL,
				tenant_id VARCHAR(255) NOT NULL,
				status VARCHAR(50) NOT NULL,
				revision BIGINT NOT NULL DEFAULT 0,
				started_at TIMESTAMP WITH TIME ZONE,
				data JSONB NOT NULL,
				PRIMARY KEY (execution_id, step_id)
			);

			CREATE INDEX idx_step_executions_tenant_id ON step_executions(tenant_id);

			CREATE TABLE rollback_records (
				id VARCHAR(255) PRIMARY KEY,
				execution_id VARCHAR(255) NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				data JSONB NOT NULL
			);

			CREATE INDEX idx_rollback_records_execution_id ON rollback_records(execution_id);
		`,
		2: `
			-- Triggers
			CREATE TABLE trigger_templates (
				id VARCHAR(255) PRIMARY KEY,
				type VARCHAR(50) NOT NULL,
				data JSONB NOT NULL
			);

			CREATE TABLE workflow_triggers (
				id VARCHAR(255) PRIMARY KEY,
				tenant_id VARCHAR(255) NOT NULL,
				workflow_id VARCHAR(255) NOT NULL,
				active BOOLEAN NOT NULL DEFAULT true,
				data JSONB NOT NULL
			);

			CREATE INDEX idx_workflow_triggers_workflow_id ON workflow_triggers(workflow_id);
			CREATE INDEX idx_workflow_triggers_active ON workflow_triggers(active);

			CREATE TABLE trigger_events (
				id VARCHAR(255) PRIMARY KEY,
				trigger_id VARCHAR(255) NOT NULL,
				occurred_at TIMESTAMP WITH TIME ZONE NOT NULL,
				data JSONB NOT NULL
			);

			CREATE INDEX idx_trigger_events_trigger_id ON trigger_events(trigger_id);
		`,
		3: `
			-- Change notifications carry keys only; pg_notify payloads are capped at 8000 bytes
			CREATE OR REPLACE FUNCTION notify_execution_change() RETURNS trigger AS $$
			BEGIN
				PERFORM pg_notify('` + changeChannel + `', json_build_object(
					'table', TG_TABLE_NAME,
					'op', lower(TG_OP),
					'tenant_id', NEW.tenant_id,
					'execution_id', NEW.id,
					'step_id', ''
				)::text);
				RETURN NEW;
			END;
			$$ LANGUAGE plpgsql;

			CREATE OR REPLACE FUNCTION notify_step_change() RETURNS trigger AS $$
			BEGIN
				PERFORM pg_notify('` + changeChannel + `', json_build_object(
					'table', TG_TABLE_NAME,
					'op', lower(TG_OP),
					'tenant_id', NEW.tenant_id,
					'execution_id', NEW.execution_id,
					'step_id', NEW.step_id
				)::text);
				RETURN NEW;
			END;
			$$ LANGUAGE plpgsql;

			CREATE TRIGGER executions_notify
				AFTER INSERT OR UPDATE ON executions
				FOR EACH ROW EXECUTE FUNCTION notify_execution_change();

			CREATE TRIGGER step_executions_notify
				AFTER INSERT OR UPDATE ON step_executions
				FOR EACH ROW EXECUTE FUNCTION notify_step_change();
		`,
	}
}
