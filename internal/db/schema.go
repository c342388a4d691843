package db

import "fmt"

// tables lists every table in delete order.
var tables = []string{"chunk", "job_log", "summary", "ingest_queue", "ingest_job"}

// SchemaSQL returns the schema definition for the given embedding dimension.
func SchemaSQL(dimension int) string {
	return fmt.Sprintf(schemaTemplate, dimension)
}

const schemaTemplate = `
    -- ==========================================================================
    -- CHUNK TABLE (vector index)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS chunk SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS chunk_id ON chunk TYPE string;
    DEFINE FIELD IF NOT EXISTS job_id ON chunk TYPE string;
    DEFINE FIELD IF NOT EXISTS text ON chunk TYPE string;
    DEFINE FIELD IF NOT EXISTS modality ON chunk TYPE string;
    DEFINE FIELD IF NOT EXISTS page ON chunk TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS timestamp ON chunk TYPE string DEFAULT '';
    DEFINE FIELD IF NOT EXISTS visual_context ON chunk TYPE string DEFAULT '';
    DEFINE FIELD IF NOT EXISTS confidence ON chunk TYPE float DEFAULT 1.0;
    DEFINE FIELD IF NOT EXISTS course_id ON chunk TYPE string DEFAULT '';
    DEFINE FIELD IF NOT EXISTS user_id ON chunk TYPE string DEFAULT '';
    DEFINE FIELD IF NOT EXISTS tags ON chunk TYPE array<string> DEFAULT [];
    DEFINE FIELD IF NOT EXISTS ingested_at ON chunk TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS embedding ON chunk TYPE array<float>;

    DEFINE INDEX IF NOT EXISTS chunk_job ON chunk FIELDS job_id;
    DEFINE INDEX IF NOT EXISTS chunk_course ON chunk FIELDS course_id;
    DEFINE INDEX IF NOT EXISTS chunk_embedding ON chunk FIELDS embedding HNSW DIMENSION %d DIST COSINE TYPE F32;

    -- ==========================================================================
    -- INGEST_JOB TABLE (job status, record id = job id)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS ingest_job SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS status ON ingest_job TYPE string DEFAULT 'queued';
    DEFINE FIELD IF NOT EXISTS progress ON ingest_job TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS current_step ON ingest_job TYPE string DEFAULT '';
    DEFINE FIELD IF NOT EXISTS steps ON ingest_job TYPE array<string> DEFAULT [];
    DEFINE FIELD IF NOT EXISTS started_at ON ingest_job TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS completed_at ON ingest_job TYPE option<datetime>;
    DEFINE FIELD IF NOT EXISTS error ON ingest_job TYPE string DEFAULT '';
    DEFINE FIELD IF NOT EXISTS metadata ON ingest_job TYPE string DEFAULT '';
    -- Serialized IngestionJob, kept for regeneration and inspection
    DEFINE FIELD IF NOT EXISTS job ON ingest_job TYPE string DEFAULT '';

    DEFINE INDEX IF NOT EXISTS ingest_job_started ON ingest_job FIELDS started_at;

    -- ==========================================================================
    -- JOB_LOG TABLE
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS job_log SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS job_id ON job_log TYPE string;
    DEFINE FIELD IF NOT EXISTS timestamp ON job_log TYPE datetime;
    DEFINE FIELD IF NOT EXISTS level ON job_log TYPE string;
    DEFINE FIELD IF NOT EXISTS message ON job_log TYPE string;
    DEFINE FIELD IF NOT EXISTS step ON job_log TYPE string DEFAULT '';
    DEFINE FIELD IF NOT EXISTS data ON job_log TYPE string DEFAULT '';

    DEFINE INDEX IF NOT EXISTS job_log_job ON job_log FIELDS job_id, timestamp;

    -- ==========================================================================
    -- SUMMARY TABLE (record id = job id, body is the serialized Summary)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS summary SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS body ON summary TYPE string;
    DEFINE FIELD IF NOT EXISTS generated_at ON summary TYPE datetime DEFAULT time::now();

    -- ==========================================================================
    -- INGEST_QUEUE TABLE (durable per-modality queues)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS ingest_queue SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS queue ON ingest_queue TYPE string;
    DEFINE FIELD IF NOT EXISTS job_id ON ingest_queue TYPE string;
    DEFINE FIELD IF NOT EXISTS priority ON ingest_queue TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS body ON ingest_queue TYPE string;
    DEFINE FIELD IF NOT EXISTS created_at ON ingest_queue TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS ingest_queue_name ON ingest_queue FIELDS queue, priority, created_at;
`
