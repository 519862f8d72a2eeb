// Command entity-pipeline runs the entity resolution ETL pipeline: extract
// entity rows from Snowflake to S3, run an AWS Entity Resolution matching
// job over them, and load the matched output back into a Snowflake target
// table as golden records.
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
